package sgcopy

import (
	"context"
	"errors"
	"time"

	"github.com/sgcopy/sgcopy/internal/endpoint"
	"github.com/sgcopy/sgcopy/internal/logging"
	"github.com/sgcopy/sgcopy/internal/passthrough"
	"github.com/sgcopy/sgcopy/internal/scheduler"
	"github.com/sgcopy/sgcopy/internal/share"
	"github.com/sgcopy/sgcopy/internal/signalwatch"
	"github.com/sgcopy/sgcopy/internal/worker"
)

// JobParams describes one copy job end to end: the endpoints to open, the
// scheduler configuration that controls how they're copied, and the
// concurrency to run it at.
type JobParams struct {
	InPath  string
	OutPath string
	TeePath string // optional secondary output, empty to disable

	InOpts  endpoint.OpenOptions
	OutOpts endpoint.OpenOptions
	TeeOpts endpoint.OpenOptions

	Scheduler scheduler.Config
	Threads   int
}

// DefaultParams returns a JobParams with the engine's stock tunables,
// suitable as a starting point before overriding the paths and any
// iflag=/oflag=-derived fields.
func DefaultParams(inPath, outPath string) JobParams {
	return JobParams{
		InPath:  inPath,
		OutPath: outPath,
		InOpts:  endpoint.OpenOptions{},
		OutOpts: endpoint.OpenOptions{WriteAccess: true},
		Scheduler: scheduler.Config{
			BlockSize:         DefaultBlockSize,
			BlocksPerTransfer: DefaultBlocksPerTransfer,
			CDBSizeIn:         DefaultCDBSize,
			CDBSizeOut:        DefaultCDBSize,
			StallInitialCheck: DefaultStallInitialCheck,
			StallCheckRepeat:  DefaultStallCheckRepeat,
			CommandTimeout:    DefaultCommandTimeout,
		},
		Threads: DefaultThreads,
	}
}

// Options carries the cross-cutting collaborators a job runs with: the
// context that can cancel it early, the logger it reports through, and the
// metrics observer it reports to. All three are optional; RunCopy falls
// back to context.Background, logging.Default, and a MetricsObserver over
// the job's own Metrics. A caller-supplied Observer replaces that default,
// so the Result's metrics snapshot stays empty in that case.
type Options struct {
	Context  context.Context
	Logger   *logging.Logger
	Observer Observer
}

// Job is a running (or finished) copy job. RunCopy returns one once every
// worker has exited.
type Job struct {
	params  JobParams
	log     *logging.Logger
	metrics *Metrics
	state   *scheduler.State

	in, out, tee endpoint.Endpoint
}

// RunCopy opens params' endpoints, builds the shared scheduler state and
// pass-through drivers, runs params.Threads workers to completion, and
// returns the job's final Result. It mirrors the original engine's overall
// shape: open both sides, fork the worker pool and the signal-listening
// thread, join everyone, and return the tally for the caller to print.
func RunCopy(ctx context.Context, params JobParams, opts Options) (*Result, error) {
	if opts.Context != nil {
		ctx = opts.Context
	} else if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	j, err := newJob(params, log)
	if err != nil {
		return nil, err
	}
	defer j.closeEndpoints()

	metrics := NewMetrics()
	j.metrics = metrics
	observer := opts.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	inDriver, inFd, err := openDriver(j.in, params.Scheduler.InFlags)
	if err != nil {
		return nil, WrapError("OPEN_IN_DRIVER", err)
	}
	outDriver, outFd, err := openDriver(j.out, params.Scheduler.OutFlags)
	if err != nil {
		return nil, WrapError("OPEN_OUT_DRIVER", err)
	}
	teeDriver, _, err := openDriver(j.tee, params.Scheduler.OutFlags)
	if err != nil {
		return nil, WrapError("OPEN_TEE_DRIVER", err)
	}

	if params.Scheduler.TotalCount == 0 {
		params.Scheduler.TotalCount = autoSizeTotalCount(j.in, j.out, params.Scheduler.BlockSize)
	}
	j.params.Scheduler.TotalCount = params.Scheduler.TotalCount
	j.state = scheduler.New(params.Scheduler)

	if params.Scheduler.DryRun {
		bpt := params.Scheduler.BlocksPerTransfer
		var segments int64
		if bpt > 0 {
			segments = (params.Scheduler.TotalCount + bpt - 1) / bpt
		}
		log.Info("dry run: segment plan, no I/O issued",
			"total_blocks", params.Scheduler.TotalCount,
			"blocks_per_transfer", bpt, "segments", segments, "threads", params.Threads)
		return &Result{Metrics: metrics.Snapshot()}, nil
	}

	monitoredFd := inFd
	if monitoredFd < 0 {
		monitoredFd = outFd
	}
	watcher := signalwatch.New(j.state, monitoredFd)
	watcher.Log = log
	go watcher.Run()
	defer watcher.Stop()

	threads := params.Threads
	if threads <= 0 {
		threads = DefaultThreads
	}

	shareSession := establishShare(log, inFd, outFd, params.Scheduler.InFlags, params.Scheduler.OutFlags)
	if shareSession != nil {
		defer func() {
			log.ShareStart("read-side-fini")
			if err := shareSession.ReadSideFini(); err != nil {
				log.ShareError("read-side-fini", err)
			} else {
				log.ShareSuccess("read-side-fini")
			}
			log.ShareStart("unshare")
			if err := shareSession.Unshare(); err != nil {
				log.ShareError("unshare", err)
			} else {
				log.ShareSuccess("unshare")
			}
		}()
	}

	pool := worker.NewBufferPool()
	startedAt := time.Now()

	errCh := make(chan error, threads)
	for i := 0; i < threads; i++ {
		w := &worker.Worker{
			ID:        i,
			State:     j.state,
			In:        j.in,
			Out:       j.out,
			InDriver:  inDriver,
			OutDriver: outDriver,
			Tee:       j.tee,
			TeeDriver: teeDriver,
			Share:     shareSession,
			Pool:      pool,
			Observer:  observer,
			Log:       log,
		}
		go func() {
			errCh <- w.Run(ctx)
		}()
	}

	var firstErr error
	for i := 0; i < threads; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	metrics.Stop()

	if firstErr != nil {
		code := int32(99) // SG_LIB_CAT_OTHER
		var ce interface{ Result() *passthrough.Result }
		if errors.As(firstErr, &ce) {
			switch ce.Result().Category {
			case passthrough.CategoryNotReady:
				code = 2
			case passthrough.CategoryMediumHard:
				code = 3
			case passthrough.CategoryUnitAttention:
				code = 6
			case passthrough.CategoryAbortedCommand:
				code = 11
			case passthrough.CategoryMiscompare:
				code = 14
			}
		}
		j.state.SetExitStatus(code)
	}

	return j.buildResult(startedAt, firstErr), nil
}

func newJob(params JobParams, log *logging.Logger) (*Job, error) {
	in, err := endpoint.Open(params.InPath, params.InOpts)
	if err != nil {
		return nil, WrapError("OPEN_IN", err)
	}

	out, err := endpoint.Open(params.OutPath, params.OutOpts)
	if err != nil {
		_ = in.Close()
		return nil, WrapError("OPEN_OUT", err)
	}

	var tee endpoint.Endpoint
	if params.TeePath != "" {
		tee, err = endpoint.Open(params.TeePath, params.TeeOpts)
		if err != nil {
			_ = in.Close()
			_ = out.Close()
			return nil, WrapError("OPEN_TEE", err)
		}
	}

	return &Job{params: params, log: log, in: in, out: out, tee: tee}, nil
}

func (j *Job) closeEndpoints() {
	_ = j.in.Close()
	_ = j.out.Close()
	if j.tee != nil {
		_ = j.tee.Close()
	}
}

// openDriver picks a V3Driver or V4Driver for an sg endpoint based on its
// flags' v3/v4 override (sideFlags.V3/V4), defaulting to v4 when neither is
// set, since v4 is the superset ioctl generation. Non-sg and nil endpoints
// return a nil driver and an fd of -1.
func openDriver(ep endpoint.Endpoint, flags scheduler.SideFlags) (passthrough.Driver, int, error) {
	if ep == nil || ep.Kind() != endpoint.KindSG {
		return nil, -1, nil
	}
	fd := ep.Fd()
	if flags.V3 {
		return passthrough.NewV3Driver(fd), fd, nil
	}
	return passthrough.NewV4Driver(fd), fd, nil
}

// establishShare sets up sg buffer sharing between inFd and outFd when
// both sides are sg devices, sharing wasn't disabled by noshare on either
// side's iflag=/oflag=, and the driver reports SG_SET_GET_EXTENDED
// support. It never fails the job: a share that can't be established just
// means every worker falls back to the unshared copy path, the same as
// running against a kernel too old to support it.
func establishShare(log *logging.Logger, inFd, outFd int, inFlags, outFlags scheduler.SideFlags) *share.Session {
	if inFd < 0 || outFd < 0 {
		return nil
	}
	if inFlags.NoShare || outFlags.NoShare {
		return nil
	}
	if !share.Available(inFd) {
		log.Debug("sg buffer sharing not supported, copying unshared")
		return nil
	}

	log.ShareStart("establish")
	sess, err := share.Establish(inFd, outFd)
	if err != nil {
		log.ShareError("establish", err)
		return nil
	}
	log.ShareSuccess("establish")

	if sz, err := share.ReservedSize(inFd); err == nil {
		log.Debug("share reserved size", "bytes", sz)
	}
	if sz, err := share.SupportedElemSize(inFd); err == nil {
		log.Debug("share scatter-gather element size", "bytes", sz)
	}

	return sess
}

// autoSizeTotalCount picks a block count from whichever side reports a
// known size, the way sgh_dd falls back to the input file's size when
// count= is omitted.
func autoSizeTotalCount(in, out endpoint.Endpoint, blockSize int) int64 {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if size := in.Size(); size > 0 {
		return size / int64(blockSize)
	}
	if size := out.Size(); size > 0 {
		return size / int64(blockSize)
	}
	return 0
}

func (j *Job) buildResult(startedAt time.Time, jobErr error) *Result {
	cfg := j.params.Scheduler
	total := cfg.TotalCount

	inDone := total - j.state.InRem.Load()
	outDone := total - j.state.OutRem.Load()

	res := &Result{
		RecordsIn:  inDone,
		RecordsOut: outDone,
		ExitStatus: j.state.ExitStatus(),
		Err:        jobErr,
		Elapsed:    time.Since(startedAt),
		Metrics:    j.metrics.Snapshot(),
	}
	if inDone < total {
		res.PartialRecordsIn = 1
	}
	if outDone < total {
		res.PartialRecordsOut = 1
	}
	return res
}

// Go's structural typing lets any Observer value (the top-level type
// declared in metrics.go) satisfy internal/worker's locally declared
// Observer interface directly, since both share the same method set; no
// adapter type is needed to bridge the two packages.
var _ worker.Observer = Observer(nil)
