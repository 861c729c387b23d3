package scheduler

import "sync/atomic"

// Segment is a contiguous range of logical blocks assigned to one worker
// for one loop iteration.
type Segment struct {
	Index  int64 // position within [0, TotalCount)
	Count  int64 // <= BlocksPerTransfer, smaller in the tail
	InLBA  int64 // SkipIn + Index
	OutLBA int64 // SeekOut + Index
}

// NextSegment atomically claims the next unassigned range of
// Config.BlocksPerTransfer blocks. The second return value is false once
// the job has handed out every block, or once a stop flag is set; the
// caller should flush any pending work and exit its loop in either case.
func (s *State) NextSegment() (Segment, bool) {
	if s.Stopped() {
		return Segment{}, false
	}

	bpt := s.Config.BlocksPerTransfer
	idx := s.segIndex.Add(bpt) - bpt
	if idx >= s.Config.TotalCount {
		return Segment{}, false
	}

	count := bpt
	if idx+count > s.Config.TotalCount {
		count = s.Config.TotalCount - idx
	}

	return Segment{
		Index:  idx,
		Count:  count,
		InLBA:  s.Config.SkipIn + idx,
		OutLBA: s.Config.SeekOut + idx,
	}, true
}

// NextSegmentBatch atomically claims up to n contiguous segments of
// Config.BlocksPerTransfer blocks each in a single increment, so the
// caller's claimed range can't be split by another worker's concurrent
// NextSegment/NextSegmentBatch call the way n separate NextSegment calls
// could be. MRQ batch submission depends on that contiguity: a worker only
// has to wait once, for the batch's first segment, for its turn at the
// output ordering gate. Returns fewer than n segments once the job is
// close to TotalCount, and none once every block has been handed out or a
// stop flag is set.
func (s *State) NextSegmentBatch(n int) []Segment {
	if s.Stopped() || n <= 0 {
		return nil
	}

	bpt := s.Config.BlocksPerTransfer
	want := bpt * int64(n)
	start := s.segIndex.Add(want) - want
	if start >= s.Config.TotalCount {
		return nil
	}

	segs := make([]Segment, 0, n)
	idx := start
	for i := 0; i < n && idx < s.Config.TotalCount; i++ {
		count := bpt
		if idx+count > s.Config.TotalCount {
			count = s.Config.TotalCount - idx
		}
		segs = append(segs, Segment{
			Index:  idx,
			Count:  count,
			InLBA:  s.Config.SkipIn + idx,
			OutLBA: s.Config.SeekOut + idx,
		})
		idx += count
	}
	return segs
}

// PackIDAllocator assigns the process-wide monotonically increasing
// pack-id used to tag every submitted SCSI command. Paired() hands out a
// READ/WRITE pair with the even-read/odd-write rule used when both sides
// are sg and sharing is active.
type PackIDAllocator struct {
	next atomic.Int32
}

// Next returns the next pack-id for a command that has no paired partner.
func (a *PackIDAllocator) Next() int32 {
	return a.next.Add(1)
}

// Paired returns (readID, writeID) where readID is even and
// writeID == readID+1, for a segment whose read and write are issued
// together through a shared buffer.
func (a *PackIDAllocator) Paired() (readID, writeID int32) {
	for {
		cur := a.next.Load()
		base := cur
		if base%2 != 0 {
			base++
		}
		next := base + 2
		if a.next.CompareAndSwap(cur, next) {
			return base, base + 1
		}
	}
}

// MrqIDAllocator assigns the process-wide monotonically increasing MRQ
// group id, starting at the constant base the original reserves to keep
// MRQ ids visually distinct from pack-ids.
type MrqIDAllocator struct {
	next atomic.Int64
}

const mrqIDBase = 0x10000

// Next returns the next MRQ group id.
func (a *MrqIDAllocator) Next() int64 {
	for {
		cur := a.next.Load()
		if cur == 0 {
			if a.next.CompareAndSwap(0, mrqIDBase+1) {
				return mrqIDBase
			}
			continue
		}
		if a.next.CompareAndSwap(cur, cur+1) {
			return cur
		}
	}
}
