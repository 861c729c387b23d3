package passthrough

import (
	"time"

	"github.com/sgcopy/sgcopy/internal/constants"
)

// Command describes one SCSI pass-through command: a CDB built from an
// (Op, LBA, Blocks, CDBSize) tuple, a data buffer, and the sg-level
// controls (timeout, flags, pack id) that accompany it.
type Command struct {
	Op      Op
	LBA     uint64
	Blocks  uint32
	CDBSize int
	Buffer  []byte // nil/empty for a pure verify-without-data command
	Timeout time.Duration
	PackID  int32

	DirectIO bool
	MmapIO   bool

	// FUA/DPO/BytChk/Immed set the matching bit on the CDB's control/flags
	// byte (see uapi.CDBFlag*); which ones apply depends on Op.
	FUA    bool
	DPO    bool
	BytChk bool
	Immed  bool

	// QHead/QTail request the device queue this command at the head or
	// tail of its queue. Polled is v4-only and asks the driver for a
	// non-blocking completion style. NoDxfer, honoured by both drivers,
	// builds the CDB but skips the data transfer phase entirely.
	QHead   bool
	QTail   bool
	Polled  bool
	NoDxfer bool

	// Share/DoOnOther/KeepShare/DoutOffset are v4-only share-session
	// controls. Share marks this command as the read half establishing
	// the pairing; DoOnOther mirrors the share relationship onto the
	// companion fd; KeepShare tells the driver not to tear the share down
	// when this command completes, because a sibling command (the other
	// half of a split write) still needs it; DoutOffset, when nonzero,
	// places this command's data at that byte offset into the shared dout
	// buffer rather than at offset 0.
	Share      bool
	DoOnOther  bool
	KeepShare  bool
	DoutOffset uint32
}

// Result is what a finished Command reports back.
type Result struct {
	Status       uint8
	HostStatus   uint16
	DriverStatus uint16
	Sense        []byte
	Resid        int32
	DurationMs   uint32
	Category     Category
	PackID       int32
}

// Driver is the minimal interface internal/worker needs from a
// pass-through backend; V3Driver and V4Driver both implement it, letting
// the scheduler pick whichever the sg driver version on a given fd
// supports.
type Driver interface {
	// Execute runs cmd to completion (v3: one blocking ioctl; v4: a
	// submit followed by a matching receive) and returns its Result.
	Execute(cmd *Command) (*Result, error)

	// Close releases any driver-held resources (none for v3/v4, present
	// for symmetry with share.Session).
	Close() error
}

func defaultTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return constants.DefaultCommandTimeout
	}
	return d
}
