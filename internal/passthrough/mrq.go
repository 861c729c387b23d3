package passthrough

import (
	"sync/atomic"
	"unsafe"

	"github.com/sgcopy/sgcopy/internal/uapi"
)

// SubmitMode selects how an MRQ batch's component requests are ordered
// relative to each other once submitted, matching sg_mrq_dd's four modes.
type SubmitMode int

const (
	// OrderedBlocking issues the whole array and blocks until every
	// request in it has completed, in array order.
	OrderedBlocking SubmitMode = iota
	// VariableBlocking issues the whole array and blocks until every
	// request has completed, but accepts completions out of order.
	VariableBlocking
	// SharedVariableBlocking is VariableBlocking over a share-backed fd
	// pair, where the kernel may reorder read/write halves across the
	// shared buffer.
	SharedVariableBlocking
	// FullNonBlocking submits the array and returns immediately; the
	// caller polls or waits via Receive on its own schedule.
	FullNonBlocking
)

// mrqIDCounter is the process-wide MRQ id allocator, seeded at
// constants.MonoMrqIDBase like sg_mrq_dd's MONO_MRQ_ID_INIT.
var mrqIDCounter atomic.Uint64

func init() {
	mrqIDCounter.Store(mrqIDBase)
}

const mrqIDBase = 0x10000

// NextMrqID returns the next process-wide MRQ id.
func NextMrqID() uint64 {
	return mrqIDCounter.Add(1)
}

// Batch is a set of Commands submitted together as one MRQ array on a
// single sg v4 fd.
type Batch struct {
	fd      int
	mode    SubmitMode
	mrqID   uint64
	cdbs    [][]byte
	senses  [][]byte
	reqs    []uapi.SgIOV4
	cmds    []*Command
}

// NewBatch prepares an MRQ batch for cmds against fd. The backing CDB and
// sense buffers are allocated up front so their addresses stay stable for
// the lifetime of the batch.
func NewBatch(fd int, mode SubmitMode, cmds []*Command) (*Batch, error) {
	b := &Batch{
		fd:    fd,
		mode:  mode,
		mrqID: NextMrqID(),
		cmds:  cmds,
	}

	b.cdbs = make([][]byte, len(cmds))
	b.senses = make([][]byte, len(cmds))
	b.reqs = make([]uapi.SgIOV4, len(cmds))

	for i, cmd := range cmds {
		cdb, err := BuildCDB(cmd.Op, cmd.LBA, cmd.Blocks, cmd.CDBSize, CDBFlags{
			DPO: cmd.DPO, FUA: cmd.FUA, BytChk: cmd.BytChk, Immed: cmd.Immed,
		})
		if err != nil {
			return nil, err
		}
		sense := make([]byte, uapi.SenseBuffLen)
		b.cdbs[i] = cdb
		b.senses[i] = sense

		req := buildV4Request(cmd, cdb, sense)
		req.RequestTag = uint64(cmd.PackID)
		req.Flags |= uapi.SGV4_FLAG_MULTIPLE_REQS
		if mode == OrderedBlocking {
			req.Flags |= uapi.SGV4_FLAG_ORDERED_WR
		}
		b.reqs[i] = req
	}

	return b, nil
}

// Submit issues the whole array in one SG_IOSUBMIT call. The array itself
// travels as the dout buffer of a wrapper request whose RequestExtra field
// carries the MRQ id, matching sg_mrq_dd's use of a leading "extra" element
// to describe the batch that follows it.
func (b *Batch) Submit() error {
	if len(b.reqs) == 0 {
		return nil
	}

	wrapper := uapi.SgIOV4{
		Guard:        'Q',
		Protocol:     uapi.SgIOV4ProtoSCSI,
		Subprotocol:  uapi.SgIOV4SubprotoSCSICDB,
		RequestExtra: uint32(b.mrqID),
		DoutXferLen:  uint32(len(b.reqs)) * uint32(unsafe.Sizeof(uapi.SgIOV4{})),
		DoutXferp:    uint64(uintptr(unsafe.Pointer(&b.reqs[0]))),
	}
	wrapper.Flags = uapi.SGV4_FLAG_MULTIPLE_REQS
	if b.mode == FullNonBlocking {
		wrapper.Flags |= uapi.SGV4_FLAG_IMMED
	}

	return ioctl(b.fd, uapi.SG_IOSUBMIT, unsafe.Pointer(&wrapper))
}

// Receive blocks (per Submit's mode) until every request in the batch has
// completed, and returns their Results in array order regardless of the
// order the driver actually completed them in.
func (b *Batch) Receive() ([]*Result, error) {
	results := make([]*Result, len(b.cmds))
	pending := make(map[uint64]int, len(b.cmds))
	for i, cmd := range b.cmds {
		pending[uint64(cmd.PackID)] = i
	}

	for len(pending) > 0 {
		var resp uapi.SgIOV4
		resp.Guard = 'Q'
		resp.RequestTag = SgTagWildcard
		if err := ioctl(b.fd, uapi.SG_IORECEIVE, unsafe.Pointer(&resp)); err != nil {
			return results, err
		}

		idx, ok := pending[resp.RequestTag]
		if !ok {
			continue
		}
		results[idx] = resultFromV4(&resp, b.senses[idx])
		delete(pending, resp.RequestTag)
	}

	return results, nil
}

// Abort cancels every still-outstanding request in the batch.
func (b *Batch) Abort() error {
	req := uapi.SgIOV4{Guard: 'Q', RequestExtra: uint32(b.mrqID)}
	req.Flags = uapi.SGV4_FLAG_MULTIPLE_REQS
	return ioctl(b.fd, uapi.SG_IOABORT, unsafe.Pointer(&req))
}
