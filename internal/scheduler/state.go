// Package scheduler holds the state a copy job's workers share: the
// segment index allocator, remaining-block counters, the out-of-order
// write barrier, stop flags, and the pack-id/MRQ-id allocators. One
// instance is created before workers start and read by all of them; no
// worker owns it exclusively.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// SideFlags is the per-side request-modifier set recognised on iflag=/oflag=.
// Mmap is a tri-state count: 0 means no mmap, 1 means mmap and unmap on
// exit, 2 means mmap and leave mapped.
type SideFlags struct {
	Append    bool
	COE       bool
	DefRes    bool
	DIO       bool
	Direct    bool
	DPO       bool
	DSync     bool
	Excl      bool
	FF        bool
	FUA       bool
	Polled    bool
	MAsync    bool
	MrqImmed  bool
	MrqSVB    bool
	NoDur     bool
	NoCreat   bool
	NoShare   bool
	NoThresh  bool
	NoUnshare bool
	NoXfer    bool
	QHead     bool
	QTail     bool
	Random    bool
	MoutIf    bool
	SameFDs   bool
	V3        bool
	V4        bool
	WQExcl    bool
	Zero      bool
	Mmap      int
}

// Config is the immutable configuration shared by every worker in a job.
type Config struct {
	BlockSize             int
	BlocksPerTransfer     int64
	CDBSizeIn, CDBSizeOut int
	InFlags, OutFlags     SideFlags
	MRQBatch              int

	StallInitialCheck time.Duration
	StallCheckRepeat  time.Duration
	CommandTimeout    time.Duration

	// OutputSplit is ofsplit: when > 0 and a segment's block count exceeds
	// it, the write half is emitted as two commands.
	OutputSplit int64

	// AbortEveryN and MRQAbortEveryN hold the aen/m_aen values parsed from
	// ae=. No worker reads them, so no aborts are injected.
	AbortEveryN    int64
	MRQAbortEveryN int64

	// TotalCount is the number of blocks to copy (dd_count). SkipIn/SeekOut
	// are the starting LBAs on each side.
	TotalCount int64
	SkipIn     int64
	SeekOut    int64

	// Verify, when set, issues a compare-on-drive VERIFY instead of a
	// WRITE for the output half. Prefetch, combined with Verify, issues a
	// PRE-FETCH against the output LBA before the VERIFY so the drive's
	// cache is primed.
	Verify   bool
	Prefetch bool

	// ChkAddr enables the address-check scan described in spec.md §4.4
	// step 3. ChkAddrSingle selects "inspect one 4-byte word per block"
	// over "inspect every 4-byte word for bs-3 bytes"; the latter's tail
	// off-by-one (the last 3 bytes of a block are never inspected) is
	// preserved as-is rather than fixed.
	ChkAddr       bool
	ChkAddrSingle bool

	// DryRun computes and logs the segment plan without issuing any I/O.
	DryRun bool
}

// State is the one-per-job shared scheduler state. Remaining counters,
// stop flags, and the segment index are atomics so the fast path never
// takes a lock; InMutex/OutMutex/Out2Mutex guard the narrow regions the
// spec calls out, and OutSyncCV is the sole cross-worker wait point.
type State struct {
	Config Config

	InRem    atomic.Int64
	OutRem   atomic.Int64
	OutCount atomic.Int64
	OutBlk   atomic.Int64 // next expected output LBA
	InStop   atomic.Bool
	OutStop  atomic.Bool

	segIndex atomic.Int64

	InMutex   sync.Mutex
	OutMutex  sync.Mutex
	Out2Mutex sync.Mutex
	OutSyncCV *sync.Cond

	// ShareMutex serializes a share session's Swap calls against the
	// primary write they're temporarily diverted around: a worker writing
	// the tee/secondary target holds it for "swap to tee fd, write, swap
	// back", and a worker doing a share-aware primary write holds it for
	// the single write underneath, so the two can never observe the share
	// pointed at the wrong fd.
	ShareMutex sync.Mutex

	packIDs PackIDAllocator
	mrqIDs  MrqIDAllocator

	mostRecentPackID atomic.Int32
	exitStatus       atomic.Int32
	exitStatusSet    atomic.Bool

	shuttingDown atomic.Bool
}

// New creates shared state for a job copying cfg.TotalCount blocks.
func New(cfg Config) *State {
	s := &State{Config: cfg}
	s.InRem.Store(cfg.TotalCount)
	s.OutRem.Store(cfg.TotalCount)
	s.OutBlk.Store(cfg.SeekOut)
	s.OutSyncCV = sync.NewCond(&s.OutMutex)
	return s
}

// PackIDs returns the job's pack-id allocator.
func (s *State) PackIDs() *PackIDAllocator { return &s.packIDs }

// MrqIDs returns the job's MRQ-id allocator.
func (s *State) MrqIDs() *MrqIDAllocator { return &s.mrqIDs }

// RecordPackID is called by a worker after submitting a command, so the
// signal-listening thread can detect a stalled pack-id sequence.
func (s *State) RecordPackID(id int32) {
	s.mostRecentPackID.Store(id)
}

// MostRecentPackID returns the last pack-id recorded by any worker.
func (s *State) MostRecentPackID() int32 {
	return s.mostRecentPackID.Load()
}

// Stop sets both stop flags and wakes every worker blocked on the output
// ordering gate so they can observe the flags and exit.
func (s *State) Stop() {
	s.InStop.Store(true)
	s.OutStop.Store(true)
	s.OutMutex.Lock()
	s.OutSyncCV.Broadcast()
	s.OutMutex.Unlock()
}

// Stopped reports whether either stop flag has been set.
func (s *State) Stopped() bool {
	return s.InStop.Load() || s.OutStop.Load()
}

// SetExitStatus records code as the job's exit status the first time it is
// called with a non-zero value; later calls are no-ops, matching the
// "write once, monotonically" rule for the original's exit_status.
func (s *State) SetExitStatus(code int32) {
	if code == 0 {
		return
	}
	if s.exitStatusSet.CompareAndSwap(false, true) {
		s.exitStatus.Store(code)
	}
}

// ExitStatus returns the first non-zero exit status recorded, or 0.
func (s *State) ExitStatus() int32 {
	return s.exitStatus.Load()
}

// ShutDown marks the job as tearing down, so the signal-listening thread
// knows to exit rather than treating a fresh timeout as a stall.
func (s *State) ShutDown() {
	s.shuttingDown.Store(true)
}

// ShuttingDown reports whether ShutDown has been called.
func (s *State) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// AdvanceOutput records that blocks more output blocks have been written
// starting at the previous OutBlk, and wakes every worker waiting on the
// output ordering gate to re-check whether it is now their turn.
func (s *State) AdvanceOutput(blocks int64) {
	s.OutMutex.Lock()
	s.OutBlk.Add(blocks)
	s.OutSyncCV.Broadcast()
	s.OutMutex.Unlock()
}

// WaitForOutputTurn blocks until outLBA is the next expected output LBA or
// the job is hard-stopped (OutStop). It does not bail out on InStop alone:
// a worker that has already claimed and read a segment past the point
// another worker hit end-of-input must still be allowed to write it in
// order, since InStop only means "stop handing out new segments," not
// "abandon segments already in flight." Returns false if the wait ended
// because of a hard stop rather than because it was this segment's turn.
func (s *State) WaitForOutputTurn(outLBA int64) bool {
	s.OutMutex.Lock()
	defer s.OutMutex.Unlock()
	for s.OutBlk.Load() != outLBA && !s.OutStop.Load() {
		s.OutSyncCV.Wait()
	}
	return !s.OutStop.Load()
}
