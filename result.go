package sgcopy

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Result is what RunCopy returns once a copy job finishes: the dd-style
// record counts, the exit status, and a metrics snapshot.
type Result struct {
	// RecordsIn/RecordsOut are "N+P" dd-convention counts: N full blocks,
	// P partial blocks (0 or 1, at most one short block per side, at
	// end of input or output).
	RecordsIn        int64
	PartialRecordsIn int64
	RecordsOut       int64
	PartialRecordsOut int64

	ExitStatus int32
	Err        error

	Elapsed time.Duration
	Metrics MetricsSnapshot
}

// ExitCode maps Result to a process exit code: 0 on a clean copy,
// otherwise the first non-zero sense-category/error code the job recorded.
func (r *Result) ExitCode() int {
	if r.ExitStatus != 0 {
		return int(r.ExitStatus)
	}
	if r.Err != nil {
		return 1
	}
	return 0
}

// String renders the result the way sgh_dd/sg_mrq_dd print their final
// summary: record counts in dd convention, elapsed wall time, throughput.
func (r *Result) String() string {
	seconds := r.Elapsed.Seconds()
	mbps := 0.0
	if seconds > 0 {
		mbps = float64(r.Metrics.TotalBytes) / seconds / (1 << 20)
	}

	return fmt.Sprintf(
		"%d+%d records in\n%d+%d records out\n%s copied in %s (%.2f MB/s)",
		r.RecordsIn, r.PartialRecordsIn,
		r.RecordsOut, r.PartialRecordsOut,
		humanize.Bytes(r.Metrics.TotalBytes),
		r.Elapsed.Round(time.Millisecond),
		mbps,
	)
}
