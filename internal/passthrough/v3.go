package passthrough

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sgcopy/sgcopy/internal/uapi"
)

// V3Driver drives SCSI commands through the legacy sg v3 ioctl (SG_IO),
// which submits and waits for completion in a single syscall. It is the
// fallback path used when the sg driver is too old for MRQ/sharing.
type V3Driver struct {
	fd int
}

// NewV3Driver wraps an open sg fd.
func NewV3Driver(fd int) *V3Driver {
	return &V3Driver{fd: fd}
}

func (d *V3Driver) Close() error { return nil }

// Execute builds the CDB for cmd, issues SG_IO, and classifies the result.
func (d *V3Driver) Execute(cmd *Command) (*Result, error) {
	cdb, err := BuildCDB(cmd.Op, cmd.LBA, cmd.Blocks, cmd.CDBSize, CDBFlags{
		DPO: cmd.DPO, FUA: cmd.FUA, BytChk: cmd.BytChk, Immed: cmd.Immed,
	})
	if err != nil {
		return nil, err
	}
	sense := make([]byte, uapi.SenseBuffLen)

	hdr := uapi.SgIOHdr{
		InterfaceID: 'S',
		CmdLen:      uint8(len(cdb)),
		MxSbLen:     uint8(len(sense)),
		DxferLen:    uint32(len(cmd.Buffer)),
		Cmdp:        uintptr(unsafe.Pointer(&cdb[0])),
		Sbp:         uintptr(unsafe.Pointer(&sense[0])),
		Timeout:     uint32(defaultTimeout(cmd.Timeout).Milliseconds()),
		PackID:      cmd.PackID,
	}

	switch cmd.Op {
	case OpWrite:
		hdr.DxferDirection = uapi.SG_DXFER_TO_DEV
	case OpVerify, OpPreFetch:
		hdr.DxferDirection = uapi.SG_DXFER_NONE
		if len(cmd.Buffer) > 0 {
			hdr.DxferDirection = uapi.SG_DXFER_TO_DEV
		}
	default:
		hdr.DxferDirection = uapi.SG_DXFER_FROM_DEV
	}

	if len(cmd.Buffer) > 0 {
		hdr.Dxferp = uintptr(unsafe.Pointer(&cmd.Buffer[0]))
	}

	var flags uint32
	if cmd.DirectIO {
		flags |= uapi.SG_FLAG_DIRECT_IO
	}
	if cmd.MmapIO {
		flags |= uapi.SG_FLAG_MMAP_IO
	}
	if cmd.QHead {
		flags |= uapi.SG_FLAG_Q_AT_HEAD
	}
	if cmd.QTail {
		flags |= uapi.SG_FLAG_Q_AT_TAIL
	}
	if cmd.NoDxfer {
		flags |= uapi.SG_FLAG_NO_DXFER
	}
	hdr.Flags = flags

	if err := ioctl(d.fd, uapi.SG_IO, unsafe.Pointer(&hdr)); err != nil {
		return nil, err
	}

	res := &Result{
		Status:       hdr.Status,
		HostStatus:   hdr.HostStatus,
		DriverStatus: hdr.DriverStatus,
		Sense:        sense[:hdr.SbLenWr],
		Resid:        hdr.Resid,
		DurationMs:   hdr.Duration,
		PackID:       hdr.PackID,
	}
	res.Category = Classify(hdr.Status, res.Sense)
	return res, nil
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

var _ Driver = (*V3Driver)(nil)
