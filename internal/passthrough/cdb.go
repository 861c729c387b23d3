// Package passthrough builds SCSI CDBs and drives them through the sg
// driver's v3 (SG_IO) and v4 (SG_IOSUBMIT/SG_IORECEIVE/SG_IOABORT) ioctls,
// including MRQ (multiple-request) batching and sense-data classification.
package passthrough

import (
	"fmt"

	"github.com/sgcopy/sgcopy/internal/constants"
	"github.com/sgcopy/sgcopy/internal/uapi"
)

// Op identifies the kind of SCSI command a CDB is built for.
type Op int

const (
	OpRead Op = iota
	OpWrite
	OpVerify
	OpPreFetch
)

// CDBFlags carries the op-specific SCSI flag bits a caller wants set on the
// CDB's control/flags byte. Which fields apply depends on op: DPO/FUA are
// meaningful for READ/WRITE (DPO also for VERIFY), BytChk only for VERIFY,
// Immed only for PRE-FETCH.
type CDBFlags struct {
	DPO    bool
	FUA    bool
	BytChk bool
	Immed  bool
}

// BuildCDB constructs a CDB for op over [lba, lba+blocks) at the requested
// size, auto-upgrading to a larger CDB when lba or blocks overflows the
// requested size's field widths, the same escalation sg_start_io performs
// when, e.g., bpt*bs pushes the transfer length past a 10-byte CDB's 16-bit
// count field. A 6-byte CDB has no control/flags byte to carry DPO or FUA
// on, so requesting either at that size is a build error rather than a
// silent auto-upgrade.
func BuildCDB(op Op, lba uint64, blocks uint32, size int, flags CDBFlags) ([]byte, error) {
	size = pickSize(op, lba, blocks, size)

	switch {
	case op == OpVerify:
		// VERIFY is only built as VERIFY(10).
		if lba > 0xFFFFFFFF || blocks > 0xFFFF {
			return nil, fmt.Errorf("verify of %d blocks at lba %d does not fit a 10-byte CDB", blocks, lba)
		}
		size = 10
	case op == OpPreFetch && size == 12:
		size = 16 // PRE-FETCH has no 12-byte form
	}

	if size == 6 && (flags.DPO || flags.FUA) {
		return nil, fmt.Errorf("dpo/fua requested on a 6-byte CDB, which has no flags byte")
	}

	switch size {
	case 6:
		return build6(op, lba, blocks), nil
	case 10:
		return build10(op, lba, blocks, flags), nil
	case 12:
		return build12(op, lba, blocks, flags), nil
	default:
		return build16(op, lba, blocks, flags), nil
	}
}

// pickSize upgrades the requested CDB size if lba or blocks would overflow
// it, never downgrading below the caller's request.
func pickSize(op Op, lba uint64, blocks uint32, want int) int {
	if want <= 0 {
		want = constants.DefaultCDBSize
	}

	if want == 6 {
		if op == OpRead || op == OpWrite {
			if lba <= uapi.CDB6MaxLBA && blocks <= uapi.CDB6MaxBlocks {
				return 6
			}
			want = 10
		} else {
			want = 10
		}
	}

	if want == 10 {
		if lba > 0xFFFFFFFF || blocks > 0xFFFF {
			want = 16
		}
	}

	if want == 12 && (lba > 0xFFFFFFFF) {
		want = 16
	}

	return want
}

func opCode6(op Op) uint8 {
	if op == OpWrite {
		return uapi.SCSI_WRITE6
	}
	return uapi.SCSI_READ6
}

func opCode10(op Op) uint8 {
	switch op {
	case OpWrite:
		return uapi.SCSI_WRITE10
	case OpVerify:
		return uapi.SCSI_VERIFY10
	case OpPreFetch:
		return uapi.SCSI_PRE_FETCH10
	default:
		return uapi.SCSI_READ10
	}
}

func opCode12(op Op) uint8 {
	if op == OpWrite {
		return uapi.SCSI_WRITE12
	}
	return uapi.SCSI_READ12
}

func opCode16(op Op) uint8 {
	switch op {
	case OpWrite:
		return uapi.SCSI_WRITE16
	case OpPreFetch:
		return uapi.SCSI_PRE_FETCH16
	default:
		return uapi.SCSI_READ16
	}
}

func build6(op Op, lba uint64, blocks uint32) []byte {
	c := &uapi.CDB6{
		OpCode:      opCode6(op),
		LbaHi:       uint8((lba >> 16) & 0x1F),
		LbaMid:      uint8((lba >> 8) & 0xFF),
		LbaLo:       uint8(lba & 0xFF),
		TransferLen: uint8(blocks), // 0 means 256, matching SCSI semantics
	}
	return uapi.Marshal(c)
}

func build10(op Op, lba uint64, blocks uint32, flags CDBFlags) []byte {
	c := &uapi.CDB10{OpCode: opCode10(op), Flags: cdbFlagsByte(op, flags)}
	putBE32(c.LBA[:], uint32(lba))
	putBE16(c.TransferLen[:], uint16(blocks))
	return uapi.Marshal(c)
}

func build12(op Op, lba uint64, blocks uint32, flags CDBFlags) []byte {
	c := &uapi.CDB12{OpCode: opCode12(op), Flags: cdbFlagsByte(op, flags)}
	putBE32(c.LBA[:], uint32(lba))
	putBE32(c.TransferLen[:], blocks)
	return uapi.Marshal(c)
}

func build16(op Op, lba uint64, blocks uint32, flags CDBFlags) []byte {
	c := &uapi.CDB16{OpCode: opCode16(op), Flags: cdbFlagsByte(op, flags)}
	putBE64(c.LBA[:], lba)
	putBE32(c.TransferLen[:], blocks)
	return uapi.Marshal(c)
}

// cdbFlagsByte packs flags into the control/flags byte layout for op.
// DPO/FUA apply to READ and WRITE; VERIFY instead carries DPO and BYTCHK;
// PRE-FETCH carries only IMMED.
func cdbFlagsByte(op Op, flags CDBFlags) uint8 {
	var b uint8
	switch op {
	case OpRead, OpWrite:
		if flags.DPO {
			b |= uapi.CDBFlagDPO
		}
		if flags.FUA {
			b |= uapi.CDBFlagFUA
		}
	case OpVerify:
		if flags.DPO {
			b |= uapi.CDBFlagDPO
		}
		if flags.BytChk {
			b |= uapi.CDBFlagBytChk
		}
	case OpPreFetch:
		if flags.Immed {
			b |= uapi.CDBFlagImmed
		}
	}
	return b
}

func putBE16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func putBE32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putBE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

// CDBSize returns the on-wire length of a CDB built at the given size
// class (6/10/12/16), matching uapi.MaxSCSICDBSize's ceiling.
func CDBSize(size int) int {
	switch {
	case size <= 6:
		return 6
	case size <= 10:
		return 10
	case size <= 12:
		return 12
	default:
		return 16
	}
}
