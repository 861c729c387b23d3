// Package uapi mirrors the Linux sg driver's userspace ABI: ioctl numbers,
// the v3 (sg_io_hdr) and v4 (sg_io_v4) wire structures, CDB opcodes, and the
// flag bits that drive sharing, MRQ, and per-command behaviour.
package uapi

// Direction of data transfer for a v3 sg_io_hdr.
const (
	SG_DXFER_NONE        = -1
	SG_DXFER_TO_DEV      = -2
	SG_DXFER_FROM_DEV    = -3
	SG_DXFER_TO_FROM_DEV = -4
)

// ioctl numbers used against an sg character device fd.
const (
	SG_IO                  = 0x2285
	SG_GET_VERSION_NUM     = 0x2282
	SG_SET_RESERVED_SIZE   = 0x2275
	SG_GET_RESERVED_SIZE   = 0x2272
	SG_SET_FORCE_PACK_ID   = 0x2271
	SG_SET_DEBUG           = 0x228e
	SG_SET_GET_EXTENDED    = 0x2291
	SG_GET_NUM_WAITING     = 0x227d
	SG_IOSUBMIT            = 0x2286
	SG_IORECEIVE           = 0x2287
	SG_IOABORT             = 0x2288
	SG_EMULATED_HOST       = 0x2203
)

// v3 sg_io_hdr.flags bits.
const (
	SG_FLAG_DIRECT_IO    = 1 << 0
	SG_FLAG_UNUSED_LUN_INHIBIT = 1 << 1
	SG_FLAG_MMAP_IO      = 1 << 2
	SG_FLAG_NO_DXFER     = 1 << 7
	SG_FLAG_Q_AT_TAIL    = 1 << 4
	SG_FLAG_Q_AT_HEAD    = 1 << 5
)

// v4 sg_io_v4.flags bits (SGV4_FLAG_*).
const (
	SGV4_FLAG_DIRECT_IO    = 1 << 0
	SGV4_FLAG_MMAP_IO      = 1 << 2
	SGV4_FLAG_YIELD_TAG    = 1 << 3
	SGV4_FLAG_Q_AT_TAIL    = 1 << 4
	SGV4_FLAG_Q_AT_HEAD    = 1 << 5
	SGV4_FLAG_DOUT_OFFSET  = 1 << 6
	SGV4_FLAG_EVENTFD      = 1 << 7
	SGV4_FLAG_COMPLETE_B4  = 1 << 8
	SGV4_FLAG_SIGNAL       = 1 << 9
	SGV4_FLAG_IMMED        = 1 << 10
	SGV4_FLAG_POLLED       = 1 << 11
	SGV4_FLAG_STOP_IF      = 1 << 12
	SGV4_FLAG_DEV_SCOPE    = 1 << 13
	SGV4_FLAG_SHARE        = 1 << 14
	SGV4_FLAG_DO_ON_OTHER  = 1 << 15
	SGV4_FLAG_NO_DXFER     = 1 << 16
	SGV4_FLAG_KEEP_SHARE   = 1 << 17
	SGV4_FLAG_MULTIPLE_REQS = 1 << 18
	SGV4_FLAG_ORDERED_WR   = 1 << 19
	SGV4_FLAG_REC_ORDER    = 1 << 20
	SGV4_FLAG_META_OUT_IF  = 1 << 21
)

// sg_io_hdr.info / sg_io_v4.info bits.
const (
	SG_INFO_OK_MASK        = 0x1
	SG_INFO_OK             = 0x0
	SG_INFO_CHECK          = 0x1
	SG_INFO_DIRECT_IO_MASK = 0x6
	SG_INFO_INDIRECT_IO    = 0x0
	SG_INFO_DIRECT_IO      = 0x2
	SG_INFO_MIXED_IO       = 0x4
	SG_INFO_DEVICE_DETACHING = 0x8
	SG_INFO_ABORTED        = 0x10
	SG_INFO_MRQ_FINI       = 0x20
)

// SG_SET_GET_EXTENDED bit masks (sg_extended_info.sei_rd_mask/sei_wr_mask).
const (
	SG_SEIM_SHARE_FD      = 1 << 0
	SG_SEIM_RESERVED_SIZE = 1 << 1
	SG_SEIM_CTL_FLAGS     = 1 << 2
	SG_SEIM_MINOR_INDEX   = 1 << 3
	SG_SEIM_TOTAL_FD_THR  = 1 << 4
	SG_SEIM_CHG_SHARE_FD  = 1 << 5
	SG_SEIM_SGAT_ELEM_SZ  = 1 << 6
)

// sg_extended_info.ctl_flags bits (SG_CTL_FLAGM_*).
const (
	SG_CTL_FLAGM_TIME_IN_NS    = 1 << 0
	SG_CTL_FLAGM_OTHER_OPTS    = 1 << 1
	SG_CTL_FLAGM_ORPHANS       = 1 << 2
	SG_CTL_FLAGM_NO_DURATION   = 1 << 4
	SG_CTL_FLAGM_MORE_ASYNC    = 1 << 5
	SG_CTL_FLAGM_EXCL_WAITQ    = 1 << 6
	SG_CTL_FLAGM_UNSHARE       = 1 << 11
	SG_CTL_FLAGM_SNAP_DEV      = 1 << 12
	SG_CTL_FLAGM_READ_SIDE_FINI = 1 << 13
)

// SCSI opcodes this engine builds CDBs for.
const (
	SCSI_READ6   = 0x08
	SCSI_READ10  = 0x28
	SCSI_READ12  = 0xa8
	SCSI_READ16  = 0x88
	SCSI_WRITE6  = 0x0a
	SCSI_WRITE10 = 0x2a
	SCSI_WRITE12 = 0xaa
	SCSI_WRITE16 = 0x8a
	SCSI_VERIFY10 = 0x2f
	SCSI_PRE_FETCH10 = 0x34
	SCSI_PRE_FETCH16 = 0x90
	SCSI_READ_CAPACITY10 = 0x25
	SCSI_SERVICE_ACTION_IN_16 = 0x9e
	SCSI_SAI_READ_CAPACITY16  = 0x10
)

// CDB-size limits.
const (
	CDB6MaxBlocks = 256 // a zero count byte means 256
	CDB6MaxLBA    = 0x1FFFFF
)

// SCSI CDB control/flags byte bits (byte 1 of the 10/12/16-byte CDBs; the
// 6-byte CDBs have no such byte). Bit position is opcode-dependent, not a
// single shared layout, so each constant documents which op it applies to.
const (
	CDBFlagImmed  = 1 << 0 // PRE-FETCH: return before the prefetch completes
	CDBFlagBytChk = 1 << 1 // VERIFY: compare data-out against the medium
	CDBFlagFUA    = 1 << 3 // READ/WRITE: force unit access
	CDBFlagDPO    = 1 << 4 // READ/WRITE/VERIFY: disable page out
)

// Device-state-neutral limits.
const (
	MaxSCSICDBSize = 16
	SenseBuffLen   = 64
)
