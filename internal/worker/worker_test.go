package worker

import (
	"context"
	"testing"

	"github.com/sgcopy/sgcopy/internal/endpoint"
	"github.com/sgcopy/sgcopy/internal/passthrough"
	"github.com/sgcopy/sgcopy/internal/scheduler"
	"github.com/sgcopy/sgcopy/internal/share"
)

// memEndpoint is a RAM-backed endpoint.Endpoint used to exercise the worker
// loop without a real sg device or block device present.
type memEndpoint struct {
	data []byte
	kind endpoint.Kind
}

func newMemEndpoint(size int) *memEndpoint {
	return &memEndpoint{data: make([]byte, size), kind: endpoint.KindRegular}
}

func (e *memEndpoint) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(e.data)) {
		return 0, nil
	}
	n := copy(p, e.data[off:])
	return n, nil
}

func (e *memEndpoint) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(e.data)) {
		grown := make([]byte, end)
		copy(grown, e.data)
		e.data = grown
	}
	return copy(e.data[off:], p), nil
}

func (e *memEndpoint) Size() int64               { return int64(len(e.data)) }
func (e *memEndpoint) Close() error               { return nil }
func (e *memEndpoint) Kind() endpoint.Kind        { return e.kind }
func (e *memEndpoint) Fd() int                    { return -1 }
func (e *memEndpoint) ReservedBufferSize() int    { return 0 }

var _ endpoint.Endpoint = (*memEndpoint)(nil)

func testConfig(total, bpt int64, blockSize int) scheduler.Config {
	return scheduler.Config{
		BlockSize:         blockSize,
		BlocksPerTransfer: bpt,
		CDBSizeIn:         10,
		CDBSizeOut:        10,
		TotalCount:        total,
	}
}

func newTestWorker(id int, st *scheduler.State, in, out *memEndpoint) *Worker {
	return &Worker{
		ID:       id,
		State:    st,
		In:       in,
		Out:      out,
		Pool:     NewBufferPool(),
		Observer: NoOpObserver{},
	}
}

func TestWorkerCopiesAllBlocks(t *testing.T) {
	const blockSize = 16
	const totalBlocks = 20
	cfg := testConfig(totalBlocks, 4, blockSize)
	st := scheduler.New(cfg)

	in := newMemEndpoint(totalBlocks * blockSize)
	for i := range in.data {
		in.data[i] = byte(i)
	}
	out := newMemEndpoint(totalBlocks * blockSize)

	w := newTestWorker(0, st, in, out)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if string(out.data) != string(in.data) {
		t.Fatalf("output does not match input after single-worker copy")
	}
}

func TestWorkerPoolPreservesWriteOrdering(t *testing.T) {
	const blockSize = 8
	const totalBlocks = 40
	cfg := testConfig(totalBlocks, 3, blockSize)
	st := scheduler.New(cfg)

	in := newMemEndpoint(totalBlocks * blockSize)
	for i := range in.data {
		in.data[i] = byte(i % 251)
	}
	out := newMemEndpoint(totalBlocks * blockSize)

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		w := newTestWorker(i, st, in, out)
		go func() { done <- w.Run(context.Background()) }()
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("worker %d error = %v", i, err)
		}
	}

	if string(out.data) != string(in.data) {
		t.Fatalf("output does not match input after concurrent copy")
	}
}

func TestWorkerShortReadStopsCleanly(t *testing.T) {
	const blockSize = 8
	const totalBlocks = 10
	cfg := testConfig(totalBlocks, 2, blockSize)
	st := scheduler.New(cfg)

	// in is shorter than the configured total, forcing a short read.
	in := newMemEndpoint(5 * blockSize)
	out := newMemEndpoint(totalBlocks * blockSize)

	w := newTestWorker(0, st, in, out)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !st.InStop.Load() {
		t.Fatalf("InStop was not set after a short read")
	}
}

func TestWorkerSkipsOrderingGateForNullOutput(t *testing.T) {
	const blockSize = 8
	const totalBlocks = 4
	cfg := testConfig(totalBlocks, 1, blockSize)
	st := scheduler.New(cfg)

	in := newMemEndpoint(totalBlocks * blockSize)
	w := &Worker{
		ID:       0,
		State:    st,
		In:       in,
		Out:      nullEndpoint{},
		Pool:     NewBufferPool(),
		Observer: NoOpObserver{},
	}

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestWorkerRunFallsBackToUnbatchedForNonSGSides(t *testing.T) {
	const blockSize = 8
	const totalBlocks = 12
	cfg := testConfig(totalBlocks, 2, blockSize)
	cfg.MRQBatch = 4
	st := scheduler.New(cfg)

	in := newMemEndpoint(totalBlocks * blockSize)
	for i := range in.data {
		in.data[i] = byte(i)
	}
	out := newMemEndpoint(totalBlocks * blockSize)

	w := newTestWorker(0, st, in, out)
	if w.canBatch() {
		t.Fatal("canBatch() = true for non-sg endpoints, want false")
	}
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if string(out.data) != string(in.data) {
		t.Fatalf("output does not match input when MRQBatch is set but sides aren't sg")
	}
}

// sgEndpoint is a bare Kind()==KindSG stand-in; the tests below exercise
// writeSegment/writeOne/readSegment directly rather than through a real fd,
// so ReadAt/WriteAt are never called.
type sgEndpoint struct{ fd int }

func (sgEndpoint) ReadAt(p []byte, off int64) (int, error)  { return 0, nil }
func (sgEndpoint) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }
func (sgEndpoint) Size() int64                              { return -1 }
func (sgEndpoint) Close() error                             { return nil }
func (sgEndpoint) Kind() endpoint.Kind                      { return endpoint.KindSG }
func (e sgEndpoint) Fd() int                                { return e.fd }
func (sgEndpoint) ReservedBufferSize() int                  { return 0 }

var _ endpoint.Endpoint = sgEndpoint{}

// recordingDriver implements passthrough.Driver and just remembers every
// Command it was asked to run, reporting CategoryClean for all of them.
type recordingDriver struct {
	executed []*passthrough.Command
}

func (d *recordingDriver) Execute(cmd *passthrough.Command) (*passthrough.Result, error) {
	d.executed = append(d.executed, cmd)
	return &passthrough.Result{Category: passthrough.CategoryClean, PackID: cmd.PackID}, nil
}

func (d *recordingDriver) Close() error { return nil }

var _ passthrough.Driver = (*recordingDriver)(nil)

func TestWriteSegmentSplitUsesDistinctPackIDsAndOffset(t *testing.T) {
	const blockSize = 512
	cfg := testConfig(16, 16, blockSize)
	cfg.CDBSizeOut = 10
	cfg.OutputSplit = 4
	st := scheduler.New(cfg)

	drv := &recordingDriver{}
	w := &Worker{
		ID:        0,
		State:     st,
		In:        sgEndpoint{},
		Out:       sgEndpoint{},
		OutDriver: drv,
		Share:     &share.Session{},
		Pool:      NewBufferPool(),
		Observer:  NoOpObserver{},
	}

	seg := scheduler.Segment{Index: 0, Count: 8, InLBA: 0, OutLBA: 0}
	data := make([]byte, int(seg.Count)*blockSize)

	if err := w.writeSegment(seg, data, 10); err != nil {
		t.Fatalf("writeSegment: %v", err)
	}

	if len(drv.executed) != 2 {
		t.Fatalf("expected 2 commands for a split write, got %d", len(drv.executed))
	}
	lower, upper := drv.executed[0], drv.executed[1]

	if lower.PackID == upper.PackID {
		t.Errorf("split halves share pack id %d, want distinct ids", lower.PackID)
	}
	if !lower.KeepShare {
		t.Error("lower half of a shared split write must set KeepShare")
	}
	if upper.KeepShare {
		t.Error("upper half of a shared split write should not set KeepShare")
	}
	wantOffset := uint32(cfg.OutputSplit) * uint32(blockSize)
	if upper.DoutOffset != wantOffset {
		t.Errorf("upper half DoutOffset = %d, want %d", upper.DoutOffset, wantOffset)
	}
	if lower.DoutOffset != 0 {
		t.Errorf("lower half DoutOffset = %d, want 0", lower.DoutOffset)
	}
	if !lower.Share || !lower.DoOnOther || !upper.Share || !upper.DoOnOther {
		t.Error("both split halves must carry Share/DoOnOther under an active share session")
	}
}

func TestWriteOnePropagatesFUAAndDPO(t *testing.T) {
	const blockSize = 512
	cfg := testConfig(8, 8, blockSize)
	cfg.CDBSizeOut = 10
	cfg.OutFlags.FUA = true
	cfg.OutFlags.DPO = true
	st := scheduler.New(cfg)

	drv := &recordingDriver{}
	w := &Worker{
		ID:        0,
		State:     st,
		In:        sgEndpoint{},
		Out:       sgEndpoint{},
		OutDriver: drv,
		Pool:      NewBufferPool(),
		Observer:  NoOpObserver{},
	}

	seg := scheduler.Segment{Index: 0, Count: 4, InLBA: 0, OutLBA: 0}
	data := make([]byte, int(seg.Count)*blockSize)

	if err := w.writeSegment(seg, data, 1); err != nil {
		t.Fatalf("writeSegment: %v", err)
	}
	if len(drv.executed) != 1 {
		t.Fatalf("expected 1 command, got %d", len(drv.executed))
	}
	cmd := drv.executed[0]
	if !cmd.FUA {
		t.Error("oflag=fua did not reach the issued command")
	}
	if !cmd.DPO {
		t.Error("oflag=dpo did not reach the issued command")
	}
}

func TestWriteSegmentVerifySetsBytChkAndPrefetchSetsImmed(t *testing.T) {
	const blockSize = 512
	cfg := testConfig(8, 8, blockSize)
	cfg.CDBSizeOut = 10
	cfg.Verify = true
	cfg.Prefetch = true
	cfg.OutFlags.FUA = true
	st := scheduler.New(cfg)

	drv := &recordingDriver{}
	w := &Worker{
		ID:        0,
		State:     st,
		In:        sgEndpoint{},
		Out:       sgEndpoint{},
		OutDriver: drv,
		Pool:      NewBufferPool(),
		Observer:  NoOpObserver{},
	}

	seg := scheduler.Segment{Index: 0, Count: 4, InLBA: 0, OutLBA: 0}
	data := make([]byte, int(seg.Count)*blockSize)

	if err := w.writeSegment(seg, data, 1); err != nil {
		t.Fatalf("writeSegment: %v", err)
	}
	if len(drv.executed) != 2 {
		t.Fatalf("expected a PRE-FETCH followed by a VERIFY, got %d commands", len(drv.executed))
	}
	pf, verify := drv.executed[0], drv.executed[1]
	if pf.Op != passthrough.OpPreFetch || !pf.Immed {
		t.Errorf("prefetch command = %+v, want Op=OpPreFetch Immed=true", pf)
	}
	if verify.Op != passthrough.OpVerify || !verify.BytChk {
		t.Errorf("verify command = %+v, want Op=OpVerify BytChk=true", verify)
	}
	if verify.FUA {
		t.Error("oflag=fua must be forced off on a VERIFY command")
	}
}

// nullEndpoint mirrors internal/endpoint's null sink for this package's
// tests without exporting one from endpoint itself.
type nullEndpoint struct{}

func (nullEndpoint) ReadAt(p []byte, off int64) (int, error)  { return 0, nil }
func (nullEndpoint) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }
func (nullEndpoint) Size() int64                              { return -1 }
func (nullEndpoint) Close() error                             { return nil }
func (nullEndpoint) Kind() endpoint.Kind                      { return endpoint.KindNull }
func (nullEndpoint) Fd() int                                  { return -1 }
func (nullEndpoint) ReservedBufferSize() int                  { return 0 }

var _ endpoint.Endpoint = nullEndpoint{}
