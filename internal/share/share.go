// Package share establishes, swaps, and tears down sg driver buffer
// sharing between a read-side and write-side fd via SG_SET_GET_EXTENDED,
// so a segment's data buffer can move from the read command straight into
// the write command without an extra userspace copy.
package share

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/sgcopy/sgcopy/internal/constants"
	"github.com/sgcopy/sgcopy/internal/uapi"
)

// Session tracks one established share relationship between a read-side
// and write-side sg fd.
type Session struct {
	readFd  int
	writeFd int
	active  bool
}

// Establish shares writeFd into readFd, following sg_share_prepare: the
// read side is told which fd it may hand its buffer to once a READ
// completes, so the driver can skip the userspace bounce for that
// segment's data.
func Establish(readFd, writeFd int) (*Session, error) {
	info := uapi.SgExtendedInfo{
		SeiWrMask: uapi.SG_SEIM_SHARE_FD,
		ShareFd:   uint32(writeFd),
	}
	if err := ioctlExtended(readFd, &info); err != nil {
		return nil, err
	}
	return &Session{readFd: readFd, writeFd: writeFd, active: true}, nil
}

// Swap retargets the share to a different write-side fd without tearing
// the session down, matching sg_mrq_dd's "change_shared_fd" swap-share path
// used when a single reader fans out across multiple writer fds in
// round-robin.
func (s *Session) Swap(newWriteFd int) error {
	info := uapi.SgExtendedInfo{
		SeiWrMask:     uapi.SG_SEIM_CHG_SHARE_FD,
		ChangeShareFd: uint32(newWriteFd),
	}
	if err := retryBusy(func() error { return ioctlExtended(s.readFd, &info) }); err != nil {
		return err
	}
	s.writeFd = newWriteFd
	return nil
}

// ReadSideFini tells the driver the read side will issue no further
// commands against this share, letting the write side drain without
// waiting on a read that will never come.
func (s *Session) ReadSideFini() error {
	info := uapi.SgExtendedInfo{
		SeiWrMask: uapi.SG_SEIM_CTL_FLAGS,
		CtlFlags:  uapi.SG_CTL_FLAGM_READ_SIDE_FINI,
	}
	return ioctlExtended(s.readFd, &info)
}

// Unshare tears down the relationship, returning both fds to independent
// operation. Safe to call more than once.
func (s *Session) Unshare() error {
	if !s.active {
		return nil
	}
	info := uapi.SgExtendedInfo{
		SeiWrMask: uapi.SG_SEIM_CTL_FLAGS,
		CtlFlags:  uapi.SG_CTL_FLAGM_UNSHARE,
	}
	err := ioctlExtended(s.readFd, &info)
	s.active = false
	return err
}

// ReservedSize reads the current SG_GET_RESERVED_SIZE-equivalent value via
// SG_SET_GET_EXTENDED's read mask: the reserved buffer size in bytes.
func ReservedSize(fd int) (int, error) {
	info := uapi.SgExtendedInfo{SeiRdMask: uapi.SG_SEIM_RESERVED_SIZE}
	if err := ioctlExtended(fd, &info); err != nil {
		return 0, err
	}
	return int(info.ReservedSz), nil
}

// SupportedElemSize reads the driver's scatter-gather element size in bytes
// via SG_SET_GET_EXTENDED's read mask.
func SupportedElemSize(fd int) (int, error) {
	info := uapi.SgExtendedInfo{SeiRdMask: uapi.SG_SEIM_SGAT_ELEM_SZ}
	if err := ioctlExtended(fd, &info); err != nil {
		return 0, err
	}
	return int(info.SgatElemSz), nil
}

// ioctlExtended issues one SG_SET_GET_EXTENDED call.
func ioctlExtended(fd int, info *uapi.SgExtendedInfo) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uapi.SG_SET_GET_EXTENDED, uintptr(unsafe.Pointer(info)))
	if errno != 0 {
		return errno
	}
	return nil
}

// retryBusy retries fn while the driver reports EBUSY, up to
// constants.ShareRetryLimit times with a short backoff, matching
// sg_mrq_dd's swap-share busy-wait loop.
func retryBusy(fn func() error) error {
	var err error
	for i := 0; i < constants.ShareRetryLimit; i++ {
		err = fn()
		if err != unix.EBUSY {
			return err
		}
		time.Sleep(100 * time.Microsecond)
	}
	return err
}

// Available probes whether fd's sg driver supports SG_SET_GET_EXTENDED at
// all, by issuing a no-op extended-info call (both masks zero).
func Available(fd int) bool {
	info := uapi.SgExtendedInfo{}
	return ioctlExtended(fd, &info) == nil
}
