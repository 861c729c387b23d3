// Package worker runs the per-segment copy loop: claim a segment from the
// shared scheduler state, read it from the input side, optionally check its
// contents, wait for its turn in the output ordering gate, write it to the
// output side, and report the result. One Worker runs per configured thread;
// all of them share a single *scheduler.State.
package worker

import (
	"context"
	"errors"

	"github.com/sgcopy/sgcopy/internal/endpoint"
	"github.com/sgcopy/sgcopy/internal/logging"
	"github.com/sgcopy/sgcopy/internal/passthrough"
	"github.com/sgcopy/sgcopy/internal/scheduler"
	"github.com/sgcopy/sgcopy/internal/share"
)

// Observer mirrors the top-level package's metrics-observer method set
// structurally, so this package can report metrics without importing the
// top-level package (which itself imports this one to assemble a job).
type Observer interface {
	ObserveIn(bytes uint64, latencyNs uint64, success bool)
	ObserveOut(bytes uint64, latencyNs uint64, success bool)
	ObserveVerify(latencyNs uint64, success bool, miscompare bool)
	ObserveInFlight(depth uint32)
}

// NoOpObserver discards every observation; it is the default when a job is
// built without a metrics sink.
type NoOpObserver struct{}

func (NoOpObserver) ObserveIn(uint64, uint64, bool)   {}
func (NoOpObserver) ObserveOut(uint64, uint64, bool)  {}
func (NoOpObserver) ObserveVerify(uint64, bool, bool) {}
func (NoOpObserver) ObserveInFlight(uint32)           {}

// Worker copies segments until the shared state runs out of work or is
// stopped. ID identifies it for logging only; the copy loop itself is
// stateless across segments except for what it reads through State.
type Worker struct {
	ID int

	State *scheduler.State

	In        endpoint.Endpoint
	Out       endpoint.Endpoint
	InDriver  passthrough.Driver // nil unless In.Kind() == endpoint.KindSG
	OutDriver passthrough.Driver // nil unless Out.Kind() == endpoint.KindSG

	// Tee, if set, receives a copy of every segment written to Out, driven
	// the same way as Out (sg via TeeDriver, otherwise WriteAt).
	Tee       endpoint.Endpoint
	TeeDriver passthrough.Driver

	// Share is the buffer-sharing session established between In and Out
	// when both are sg devices and sharing wasn't disabled, nil otherwise.
	// When set, the write half of a segment omits its own data buffer: the
	// driver already holds the bytes from the paired READ.
	Share *share.Session

	Pool     *BufferPool
	Observer Observer
	Log      *logging.Logger
}

// Run claims and copies segments until the scheduler reports no work left
// or the job is stopped, then returns. A nil error means the worker ran out
// of segments normally; a non-nil error means a command failed fatally and
// the caller should treat the whole job as failed.
func (w *Worker) Run(ctx context.Context) error {
	if batch := w.State.Config.MRQBatch; batch > 1 && w.canBatch() {
		return w.runBatchedLoop(ctx, batch)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		seg, ok := w.State.NextSegment()
		if !ok {
			return nil
		}

		if err := w.runSegment(ctx, seg); err != nil {
			w.State.Stop()
			return err
		}
	}
}

// canBatch reports whether this worker's sides support MRQ batch
// submission: both must be sg devices driven through the v4 ioctl family,
// since SG_IOSUBMIT/SG_IORECEIVE's multi-request array is a v4-only
// feature.
func (w *Worker) canBatch() bool {
	if w.In.Kind() != endpoint.KindSG || w.Out.Kind() != endpoint.KindSG {
		return false
	}
	_, inV4 := w.InDriver.(*passthrough.V4Driver)
	_, outV4 := w.OutDriver.(*passthrough.V4Driver)
	return inV4 && outV4
}

// runBatchedLoop claims and copies batchSize-segment groups until the
// scheduler reports no work left or the job is stopped.
func (w *Worker) runBatchedLoop(ctx context.Context, batchSize int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		segs := w.State.NextSegmentBatch(batchSize)
		if len(segs) == 0 {
			return nil
		}

		if err := w.runSegmentBatch(ctx, segs); err != nil {
			w.State.Stop()
			return err
		}
	}
}

func (w *Worker) log() *logging.Logger {
	if w.Log != nil {
		return w.Log.WithWorker(w.ID)
	}
	return logging.Default().WithWorker(w.ID)
}

func (w *Worker) runSegment(ctx context.Context, seg scheduler.Segment) error {
	cfg := w.State.Config
	length := int(seg.Count) * cfg.BlockSize
	buf := w.Pool.Get(length)
	defer w.Pool.Put(buf)

	readID, writeID := w.allocatePackIDs()

	n, err := w.readSegment(seg, buf, readID)
	if err != nil {
		w.Observer.ObserveIn(0, 0, false)
		w.log().WithSegment(seg.Index, "READ").WithError(err).Error("read failed")
		return err
	}
	if n < length {
		w.Observer.ObserveIn(uint64(n), 0, true)
		w.State.InStop.Store(true)
	} else {
		w.Observer.ObserveIn(uint64(n), 0, true)
	}
	data := buf[:n]
	w.State.InRem.Add(-seg.Count)

	if cfg.ChkAddr {
		checkAddresses(data, seg.InLBA, cfg.BlockSize, cfg.ChkAddrSingle, w.log())
	}

	if w.Out.Kind() != endpoint.KindNull {
		if ok := w.State.WaitForOutputTurn(seg.OutLBA); !ok {
			return nil
		}
	}

	if err := w.writeSegment(seg, data, writeID); err != nil {
		w.Observer.ObserveOut(0, 0, false)
		w.log().WithSegment(seg.Index, "WRITE").WithError(err).Error("write failed")
		w.State.AdvanceOutput(seg.Count)
		return err
	}
	w.Observer.ObserveOut(uint64(len(data)), 0, true)

	if w.Tee != nil {
		if err := w.writeTee(seg, data); err != nil {
			w.log().WithSegment(seg.Index, "TEE").WithError(err).Warn("tee write failed")
		}
	}

	w.State.AdvanceOutput(seg.Count)
	w.State.OutRem.Add(-seg.Count)
	return nil
}

// runSegmentBatch copies a contiguous group of segments as a single MRQ
// array per side: one SG_IOSUBMIT carrying every segment's READ, one
// SG_IORECEIVE loop to drain them, the output ordering wait for the whole
// group (valid because NextSegmentBatch guarantees the group is
// contiguous), then the same submit/receive pair for the WRITEs.
func (w *Worker) runSegmentBatch(ctx context.Context, segs []scheduler.Segment) error {
	cfg := w.State.Config

	bufs := make([][]byte, len(segs))
	readIDs := make([]int32, len(segs))
	writeIDs := make([]int32, len(segs))
	readCmds := make([]*passthrough.Command, len(segs))
	for i, seg := range segs {
		length := int(seg.Count) * cfg.BlockSize
		buf := w.Pool.Get(length)
		bufs[i] = buf
		readIDs[i], writeIDs[i] = w.allocatePackIDs()
		readCmds[i] = &passthrough.Command{
			Op:      passthrough.OpRead,
			LBA:     uint64(seg.InLBA),
			Blocks:  uint32(seg.Count),
			CDBSize: cfg.CDBSizeIn,
			Buffer:  buf,
			Timeout: cfg.CommandTimeout,
			PackID:  readIDs[i],
			FUA:     cfg.InFlags.FUA,
			DPO:     cfg.InFlags.DPO,
			QHead:   cfg.InFlags.QHead,
			QTail:   cfg.InFlags.QTail,
			Polled:  cfg.InFlags.Polled,
			NoDxfer: cfg.InFlags.NoXfer,
		}
		if w.Share != nil {
			readCmds[i].Share = true
		}
	}
	defer func() {
		for _, b := range bufs {
			w.Pool.Put(b)
		}
	}()

	readMode := passthrough.VariableBlocking
	if w.Share != nil {
		readMode = passthrough.SharedVariableBlocking
	}
	readBatch, err := passthrough.NewBatch(w.In.Fd(), readMode, readCmds)
	if err != nil {
		w.Observer.ObserveIn(0, 0, false)
		return err
	}

	w.State.InMutex.Lock()
	err = readBatch.Submit()
	w.State.InMutex.Unlock()
	if err != nil {
		_ = readBatch.Abort()
		w.Observer.ObserveIn(0, 0, false)
		return err
	}
	readResults, err := readBatch.Receive()
	if err != nil {
		w.Observer.ObserveIn(0, 0, false)
		return err
	}

	datas := make([][]byte, len(segs))
	for i, seg := range segs {
		res := readResults[i]
		if res == nil {
			w.Observer.ObserveIn(0, 0, false)
			w.log().WithSegment(seg.Index, "READ").Error("batched read returned no result")
			return errBatchIncomplete
		}
		if res.Category.IsFatal() {
			w.Observer.ObserveIn(0, 0, false)
			w.log().WithSegment(seg.Index, "READ").Error("batched read failed")
			return newCommandError(res)
		}
		n := int(seg.Count)*cfg.BlockSize - int(res.Resid)
		if res.Resid > 0 {
			w.State.InStop.Store(true)
		}
		w.Observer.ObserveIn(uint64(n), 0, true)
		data := bufs[i][:n]
		datas[i] = data
		w.State.InRem.Add(-seg.Count)

		if cfg.ChkAddr {
			checkAddresses(data, seg.InLBA, cfg.BlockSize, cfg.ChkAddrSingle, w.log())
		}
	}

	total := totalSegCount(segs)

	if w.Out.Kind() != endpoint.KindNull {
		if ok := w.State.WaitForOutputTurn(segs[0].OutLBA); !ok {
			return nil
		}
	}

	useShare := w.Share != nil
	writeCmds := make([]*passthrough.Command, len(segs))
	for i, seg := range segs {
		cmd := &passthrough.Command{
			Op:      passthrough.OpWrite,
			LBA:     uint64(seg.OutLBA),
			Blocks:  uint32(seg.Count),
			CDBSize: cfg.CDBSizeOut,
			Timeout: cfg.CommandTimeout,
			PackID:  writeIDs[i],
			FUA:     cfg.OutFlags.FUA,
			DPO:     cfg.OutFlags.DPO,
			QHead:   cfg.OutFlags.QHead,
			QTail:   cfg.OutFlags.QTail,
			Polled:  cfg.OutFlags.Polled,
			NoDxfer: cfg.OutFlags.NoXfer,
		}
		if useShare {
			cmd.Share = true
			cmd.DoOnOther = true
		} else {
			cmd.Buffer = datas[i]
		}
		writeCmds[i] = cmd
	}

	writeBatch, err := passthrough.NewBatch(w.Out.Fd(), passthrough.OrderedBlocking, writeCmds)
	if err != nil {
		w.Observer.ObserveOut(0, 0, false)
		w.State.AdvanceOutput(total)
		return err
	}
	w.State.OutMutex.Lock()
	err = writeBatch.Submit()
	w.State.OutMutex.Unlock()
	if err != nil {
		_ = writeBatch.Abort()
		w.Observer.ObserveOut(0, 0, false)
		w.State.AdvanceOutput(total)
		return err
	}
	writeResults, err := writeBatch.Receive()
	if err != nil {
		w.Observer.ObserveOut(0, 0, false)
		w.State.AdvanceOutput(total)
		return err
	}

	for i, seg := range segs {
		res := writeResults[i]
		if res == nil {
			w.Observer.ObserveOut(0, 0, false)
			w.log().WithSegment(seg.Index, "WRITE").Error("batched write returned no result")
			w.State.AdvanceOutput(total)
			return errBatchIncomplete
		}
		if res.Category.IsFatal() {
			w.Observer.ObserveOut(0, 0, false)
			w.log().WithSegment(seg.Index, "WRITE").Error("batched write failed")
			w.State.AdvanceOutput(total)
			return newCommandError(res)
		}
		w.Observer.ObserveOut(uint64(seg.Count)*uint64(cfg.BlockSize), 0, true)

		if w.Tee != nil {
			if err := w.writeTee(seg, datas[i]); err != nil {
				w.log().WithSegment(seg.Index, "TEE").WithError(err).Warn("tee write failed")
			}
		}
		w.State.OutRem.Add(-seg.Count)
	}
	w.State.AdvanceOutput(total)
	return nil
}

func totalSegCount(segs []scheduler.Segment) int64 {
	var total int64
	for _, s := range segs {
		total += s.Count
	}
	return total
}

// allocatePackIDs returns the (read, write) pack ids for one segment. When
// both sides are sg devices they're drawn from the paired even/odd
// allocator so a READ and its matching WRITE share a recognisable id pair;
// otherwise each side draws independently.
func (w *Worker) allocatePackIDs() (int32, int32) {
	if w.In.Kind() == endpoint.KindSG && w.Out.Kind() == endpoint.KindSG {
		r, wr := w.State.PackIDs().Paired()
		w.State.RecordPackID(wr)
		return r, wr
	}
	r := w.State.PackIDs().Next()
	wr := w.State.PackIDs().Next()
	w.State.RecordPackID(wr)
	return r, wr
}

// readSegment fills buf from seg.InLBA and returns the number of bytes
// actually read.
func (w *Worker) readSegment(seg scheduler.Segment, buf []byte, packID int32) (int, error) {
	cfg := w.State.Config

	if w.In.Kind() != endpoint.KindSG {
		return w.In.ReadAt(buf, seg.InLBA*int64(cfg.BlockSize))
	}

	cmd := &passthrough.Command{
		Op:      passthrough.OpRead,
		LBA:     uint64(seg.InLBA),
		Blocks:  uint32(seg.Count),
		CDBSize: cfg.CDBSizeIn,
		Buffer:  buf,
		Timeout: cfg.CommandTimeout,
		PackID:  packID,
		FUA:     cfg.InFlags.FUA,
		DPO:     cfg.InFlags.DPO,
		QHead:   cfg.InFlags.QHead,
		QTail:   cfg.InFlags.QTail,
		Polled:  cfg.InFlags.Polled,
		NoDxfer: cfg.InFlags.NoXfer,
	}
	if w.Share != nil {
		cmd.Share = true
	}

	res, err := w.execute(w.InDriver, cmd, &w.State.InMutex)
	if err != nil {
		return 0, err
	}
	if res.Category.IsFatal() {
		return int(cmd.Blocks)*cfg.BlockSize - int(res.Resid), newCommandError(res)
	}
	return len(buf) - int(res.Resid), nil
}

// writeOpts carries the per-call share/split controls writeOne needs beyond
// what it can derive from cfg.OutFlags: whether to omit the buffer and pull
// from the share session instead, whether to tell the driver to keep that
// share alive past this command (the lower half of a split write, whose
// sibling still needs it), and the byte offset into the shared dout buffer
// this command's data starts at (the upper half of a split write).
type writeOpts struct {
	useShare   bool
	keepShare  bool
	doutOffset uint32
}

// writeSegment issues the output command(s) for seg. When cfg.Verify is set
// it issues a compare-on-drive VERIFY (preceded by a PRE-FETCH if
// cfg.Prefetch is also set) instead of a WRITE. When cfg.OutputSplit is
// positive and the segment's block count exceeds it, the write is split
// into two commands at that boundary, each with its own pack-id; under an
// active share session the lower half keeps the share alive for its sibling
// and the upper half carries the byte offset of its data within the shared
// buffer, since both halves draw from the one buffer the paired READ filled.
func (w *Worker) writeSegment(seg scheduler.Segment, data []byte, packID int32) error {
	cfg := w.State.Config

	if w.Out.Kind() != endpoint.KindSG {
		_, err := w.Out.WriteAt(data, seg.OutLBA*int64(cfg.BlockSize))
		return err
	}

	if cfg.Verify && cfg.Prefetch {
		pf := &passthrough.Command{
			Op:      passthrough.OpPreFetch,
			LBA:     uint64(seg.OutLBA),
			Blocks:  uint32(seg.Count),
			CDBSize: cfg.CDBSizeOut,
			Timeout: cfg.CommandTimeout,
			PackID:  packID,
			Immed:   true,
		}
		if _, err := w.execute(w.OutDriver, pf, &w.State.OutMutex); err != nil {
			return err
		}
	}

	op := passthrough.OpWrite
	if cfg.Verify {
		op = passthrough.OpVerify
	}

	// A share session means the driver already holds this segment's data
	// from the paired READ; a VERIFY still needs the comparison data
	// passed explicitly, so sharing only elides the buffer for plain
	// WRITEs.
	useShare := w.Share != nil && op == passthrough.OpWrite

	if cfg.OutputSplit > 0 && seg.Count > cfg.OutputSplit {
		first := cfg.OutputSplit
		second := seg.Count - first
		splitBytes := int(first) * cfg.BlockSize
		secondID := w.State.PackIDs().Next()
		if err := w.writeOne(op, seg.OutLBA, first, data[:splitBytes], packID, cfg, writeOpts{
			useShare:  useShare,
			keepShare: useShare,
		}); err != nil {
			return err
		}
		return w.writeOne(op, seg.OutLBA+first, second, data[splitBytes:], secondID, cfg, writeOpts{
			useShare:   useShare,
			doutOffset: uint32(splitBytes),
		})
	}

	return w.writeOne(op, seg.OutLBA, seg.Count, data, packID, cfg, writeOpts{useShare: useShare})
}

func (w *Worker) writeOne(op passthrough.Op, lba, blocks int64, data []byte, packID int32, cfg scheduler.Config, opts writeOpts) error {
	cmd := &passthrough.Command{
		Op:      op,
		LBA:     uint64(lba),
		Blocks:  uint32(blocks),
		CDBSize: cfg.CDBSizeOut,
		Timeout: cfg.CommandTimeout,
		PackID:  packID,
		FUA:     cfg.OutFlags.FUA,
		DPO:     cfg.OutFlags.DPO,
		QHead:   cfg.OutFlags.QHead,
		QTail:   cfg.OutFlags.QTail,
		Polled:  cfg.OutFlags.Polled,
		NoDxfer: cfg.OutFlags.NoXfer,
	}
	if op == passthrough.OpVerify {
		cmd.BytChk = true
		cmd.FUA = false // VERIFY has no FUA semantics; force off regardless of oflag
	}
	if opts.useShare {
		cmd.Share = true
		cmd.DoOnOther = true
		cmd.KeepShare = opts.keepShare
		cmd.DoutOffset = opts.doutOffset
	} else {
		cmd.Buffer = data
	}

	// The share's write side points at Out already, so a share-aware
	// primary write only needs to keep the tee's swap-write-swap sequence
	// from running concurrently with it.
	if opts.useShare && w.Tee != nil {
		w.State.ShareMutex.Lock()
		defer w.State.ShareMutex.Unlock()
	}

	res, err := w.execute(w.OutDriver, cmd, &w.State.OutMutex)
	if err != nil {
		return err
	}
	if res.Category == passthrough.CategoryMiscompare {
		w.Observer.ObserveVerify(0, true, true)
		return newCommandError(res)
	}
	if res.Category.IsFatal() {
		return newCommandError(res)
	}
	w.Observer.ObserveVerify(0, true, false)
	return nil
}

// writeTee copies data to the secondary output. When Share is active and
// the tee target is also sg, it swaps the share session's write side onto
// the tee fd, issues the write off the buffer the driver already holds,
// and swaps back to Out before returning, matching sg_mrq_dd's
// change_shared_fd round-robin for a secondary writer. ShareMutex keeps
// this from racing a concurrent share-aware primary write, which expects
// the share to still point at Out while it runs.
func (w *Worker) writeTee(seg scheduler.Segment, data []byte) error {
	if w.Tee.Kind() != endpoint.KindSG {
		_, err := w.Tee.WriteAt(data, seg.OutLBA*int64(w.State.Config.BlockSize))
		return err
	}

	cfg := w.State.Config
	cmd := &passthrough.Command{
		Op:      passthrough.OpWrite,
		LBA:     uint64(seg.OutLBA),
		Blocks:  uint32(seg.Count),
		CDBSize: cfg.CDBSizeOut,
		Buffer:  data,
		Timeout: cfg.CommandTimeout,
		PackID:  w.State.PackIDs().Next(),
	}

	if w.Share == nil {
		_, err := w.execute(w.TeeDriver, cmd, &w.State.Out2Mutex)
		return err
	}

	w.State.ShareMutex.Lock()
	defer w.State.ShareMutex.Unlock()

	teeFd := w.Tee.Fd()
	w.log().ShareStart("swap-tee")
	if err := w.Share.Swap(teeFd); err != nil {
		w.log().ShareError("swap-tee", err)
		return err
	}
	w.log().ShareSuccess("swap-tee")
	cmd.Buffer = nil // the shared buffer already holds the data

	_, err := w.execute(w.TeeDriver, cmd, &w.State.Out2Mutex)

	w.log().ShareStart("swap-back")
	if swapErr := w.Share.Swap(w.Out.Fd()); swapErr != nil {
		w.log().ShareError("swap-back", swapErr)
		if err == nil {
			err = swapErr
		}
	} else {
		w.log().ShareSuccess("swap-back")
	}
	return err
}

// execute runs cmd through drv, releasing mu between submission and
// completion when drv supports splitting the two (the v4 ioctls). v3's
// SG_IO is a single blocking ioctl, so for a *passthrough.V3Driver mu is
// held for the whole call; this asymmetry is inherent to the two sg ioctl
// generations, not a worker-loop bug.
func (w *Worker) execute(drv passthrough.Driver, cmd *passthrough.Command, mu lockable) (*passthrough.Result, error) {
	if v4, ok := drv.(*passthrough.V4Driver); ok {
		mu.Lock()
		sense, err := v4.Submit(cmd)
		mu.Unlock()
		if err != nil {
			return nil, err
		}
		return v4.Receive(uint64(cmd.PackID), sense)
	}

	mu.Lock()
	defer mu.Unlock()
	return drv.Execute(cmd)
}

type lockable interface {
	Lock()
	Unlock()
}

// checkAddresses scans data for the address pattern backend/synthetic.go
// writes (each 4-byte word holds the big-endian block LBA) and logs any
// mismatch. chkAddrSingle inspects one word per block (the first); the
// full scan inspects every 4-byte word in a block, which for a block size
// not divisible by 4 never looks at the trailing (bs % 4) bytes of each
// block. Kept as-is rather than corrected.
func checkAddresses(data []byte, startLBA int64, blockSize int, chkAddrSingle bool, log *logging.Logger) {
	blocks := len(data) / blockSize
	for b := 0; b < blocks; b++ {
		lba := startLBA + int64(b)
		block := data[b*blockSize : (b+1)*blockSize]
		words := 1
		if !chkAddrSingle {
			words = len(block) / 4
		}
		for i := 0; i < words; i++ {
			off := i * 4
			if off+4 > len(block) {
				break
			}
			got := uint32(block[off])<<24 | uint32(block[off+1])<<16 | uint32(block[off+2])<<8 | uint32(block[off+3])
			if got != uint32(lba) {
				log.WithSegment(lba, "CHKADDR").Warn("address check mismatch",
					"expected", lba, "got", got, "word_offset", off)
			}
		}
	}
}

// errBatchIncomplete reports that an MRQ batch's Receive loop returned
// before every request in it was accounted for, which Batch.Receive's
// pending-map loop should never do short of a driver bug.
var errBatchIncomplete = errors.New("mrq batch receive returned an incomplete result set")

func newCommandError(res *passthrough.Result) error {
	return &commandError{res: res}
}

type commandError struct{ res *passthrough.Result }

func (e *commandError) Error() string {
	return "scsi command failed: category=" + e.res.Category.String()
}

// Result exposes the underlying Result for callers that want to inspect
// sense data after a failure.
func (e *commandError) Result() *passthrough.Result { return e.res }
