package uapi

import (
	"encoding/binary"
	"reflect"
	"unsafe"
)

// Marshal converts a struct to bytes using the system's native byte order.
func Marshal(v interface{}) []byte {
	switch val := v.(type) {
	case *SgIOV4:
		return marshalIOV4(val)
	case *SgExtendedInfo:
		return marshalExtendedInfo(val)
	case *CDB6:
		return marshalCDB6(val)
	case *CDB10:
		return marshalCDB10(val)
	case *CDB12:
		return marshalCDB12(val)
	case *CDB16:
		return marshalCDB16(val)
	default:
		// Fallback: direct memory copy (unsafe but fast); used for SgIOHdr,
		// whose pointer-width fields are passed straight to the ioctl and
		// never cross a byte-buffer boundary.
		return directMarshal(v)
	}
}

// Unmarshal converts bytes back to a struct.
func Unmarshal(data []byte, v interface{}) error {
	switch val := v.(type) {
	case *SgIOV4:
		return unmarshalIOV4(data, val)
	case *SgExtendedInfo:
		return unmarshalExtendedInfo(data, val)
	default:
		return directUnmarshal(data, v)
	}
}

// marshalIOV4 manually marshals SgIOV4 (160-byte kernel layout).
func marshalIOV4(v *SgIOV4) []byte {
	buf := make([]byte, 160)

	binary.LittleEndian.PutUint32(buf[0:4], uint32(v.Guard))
	binary.LittleEndian.PutUint32(buf[4:8], v.Protocol)
	binary.LittleEndian.PutUint32(buf[8:12], v.Subprotocol)
	binary.LittleEndian.PutUint32(buf[12:16], v.RequestLen)
	binary.LittleEndian.PutUint64(buf[16:24], v.Request)
	binary.LittleEndian.PutUint64(buf[24:32], v.RequestTag)
	binary.LittleEndian.PutUint32(buf[32:36], v.RequestAttr)
	binary.LittleEndian.PutUint32(buf[36:40], v.RequestPriority)
	binary.LittleEndian.PutUint32(buf[40:44], v.RequestExtra)
	binary.LittleEndian.PutUint32(buf[44:48], v.MaxResponseLen)
	binary.LittleEndian.PutUint64(buf[48:56], v.Response)
	binary.LittleEndian.PutUint32(buf[56:60], v.DoutIovecCount)
	binary.LittleEndian.PutUint32(buf[60:64], v.DoutXferLen)
	binary.LittleEndian.PutUint32(buf[64:68], v.DinIovecCount)
	binary.LittleEndian.PutUint32(buf[68:72], v.DinXferLen)
	binary.LittleEndian.PutUint64(buf[72:80], v.DoutXferp)
	binary.LittleEndian.PutUint64(buf[80:88], v.DinXferp)
	binary.LittleEndian.PutUint32(buf[88:92], v.Timeout)
	binary.LittleEndian.PutUint32(buf[92:96], v.Flags)
	binary.LittleEndian.PutUint64(buf[96:104], v.UsrPtr)
	binary.LittleEndian.PutUint32(buf[104:108], v.SpareIn)
	binary.LittleEndian.PutUint32(buf[108:112], v.DriverStatus)
	binary.LittleEndian.PutUint32(buf[112:116], v.TransportStatus)
	binary.LittleEndian.PutUint32(buf[116:120], v.DeviceStatus)
	binary.LittleEndian.PutUint32(buf[120:124], v.RetryDelay)
	binary.LittleEndian.PutUint32(buf[124:128], v.Info)
	binary.LittleEndian.PutUint32(buf[128:132], v.Duration)
	binary.LittleEndian.PutUint32(buf[132:136], v.ResponseLen)
	binary.LittleEndian.PutUint32(buf[136:140], uint32(v.DinResid))
	binary.LittleEndian.PutUint32(buf[140:144], uint32(v.DoutResid))
	binary.LittleEndian.PutUint64(buf[144:152], v.GeneratedTag)
	binary.LittleEndian.PutUint32(buf[152:156], v.SpareOut)
	binary.LittleEndian.PutUint32(buf[156:160], v.Padding)

	return buf
}

// unmarshalIOV4 manually unmarshals SgIOV4.
func unmarshalIOV4(data []byte, v *SgIOV4) error {
	if len(data) < 160 {
		return ErrInsufficientData
	}

	v.Guard = int32(binary.LittleEndian.Uint32(data[0:4]))
	v.Protocol = binary.LittleEndian.Uint32(data[4:8])
	v.Subprotocol = binary.LittleEndian.Uint32(data[8:12])
	v.RequestLen = binary.LittleEndian.Uint32(data[12:16])
	v.Request = binary.LittleEndian.Uint64(data[16:24])
	v.RequestTag = binary.LittleEndian.Uint64(data[24:32])
	v.RequestAttr = binary.LittleEndian.Uint32(data[32:36])
	v.RequestPriority = binary.LittleEndian.Uint32(data[36:40])
	v.RequestExtra = binary.LittleEndian.Uint32(data[40:44])
	v.MaxResponseLen = binary.LittleEndian.Uint32(data[44:48])
	v.Response = binary.LittleEndian.Uint64(data[48:56])
	v.DoutIovecCount = binary.LittleEndian.Uint32(data[56:60])
	v.DoutXferLen = binary.LittleEndian.Uint32(data[60:64])
	v.DinIovecCount = binary.LittleEndian.Uint32(data[64:68])
	v.DinXferLen = binary.LittleEndian.Uint32(data[68:72])
	v.DoutXferp = binary.LittleEndian.Uint64(data[72:80])
	v.DinXferp = binary.LittleEndian.Uint64(data[80:88])
	v.Timeout = binary.LittleEndian.Uint32(data[88:92])
	v.Flags = binary.LittleEndian.Uint32(data[92:96])
	v.UsrPtr = binary.LittleEndian.Uint64(data[96:104])
	v.SpareIn = binary.LittleEndian.Uint32(data[104:108])
	v.DriverStatus = binary.LittleEndian.Uint32(data[108:112])
	v.TransportStatus = binary.LittleEndian.Uint32(data[112:116])
	v.DeviceStatus = binary.LittleEndian.Uint32(data[116:120])
	v.RetryDelay = binary.LittleEndian.Uint32(data[120:124])
	v.Info = binary.LittleEndian.Uint32(data[124:128])
	v.Duration = binary.LittleEndian.Uint32(data[128:132])
	v.ResponseLen = binary.LittleEndian.Uint32(data[132:136])
	v.DinResid = int32(binary.LittleEndian.Uint32(data[136:140]))
	v.DoutResid = int32(binary.LittleEndian.Uint32(data[140:144]))
	v.GeneratedTag = binary.LittleEndian.Uint64(data[144:152])
	v.SpareOut = binary.LittleEndian.Uint32(data[152:156])
	v.Padding = binary.LittleEndian.Uint32(data[156:160])

	return nil
}

// marshalExtendedInfo manually marshals SgExtendedInfo (96-byte layout).
func marshalExtendedInfo(v *SgExtendedInfo) []byte {
	buf := make([]byte, 96)

	binary.LittleEndian.PutUint32(buf[0:4], v.SeiWrMask)
	binary.LittleEndian.PutUint32(buf[4:8], v.SeiRdMask)
	binary.LittleEndian.PutUint32(buf[8:12], v.CtlFlagsRdMask)
	binary.LittleEndian.PutUint32(buf[12:16], v.CtlFlagsWrMask)
	binary.LittleEndian.PutUint32(buf[16:20], v.CtlFlags)
	binary.LittleEndian.PutUint32(buf[20:24], v.ReadValue)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(v.SgatElemSz))
	binary.LittleEndian.PutUint32(buf[28:32], v.ReservedSz)
	binary.LittleEndian.PutUint32(buf[32:36], v.TotFdThresh)
	binary.LittleEndian.PutUint32(buf[36:40], v.MinorIndex)
	binary.LittleEndian.PutUint32(buf[40:44], v.ShareFd)
	binary.LittleEndian.PutUint32(buf[44:48], v.ChangeShareFd)
	copy(buf[48:96], v.Reserved[:])

	return buf
}

// unmarshalExtendedInfo manually unmarshals SgExtendedInfo.
func unmarshalExtendedInfo(data []byte, v *SgExtendedInfo) error {
	if len(data) < 96 {
		return ErrInsufficientData
	}

	v.SeiWrMask = binary.LittleEndian.Uint32(data[0:4])
	v.SeiRdMask = binary.LittleEndian.Uint32(data[4:8])
	v.CtlFlagsRdMask = binary.LittleEndian.Uint32(data[8:12])
	v.CtlFlagsWrMask = binary.LittleEndian.Uint32(data[12:16])
	v.CtlFlags = binary.LittleEndian.Uint32(data[16:20])
	v.ReadValue = binary.LittleEndian.Uint32(data[20:24])
	v.SgatElemSz = int32(binary.LittleEndian.Uint32(data[24:28]))
	v.ReservedSz = binary.LittleEndian.Uint32(data[28:32])
	v.TotFdThresh = binary.LittleEndian.Uint32(data[32:36])
	v.MinorIndex = binary.LittleEndian.Uint32(data[36:40])
	v.ShareFd = binary.LittleEndian.Uint32(data[40:44])
	v.ChangeShareFd = binary.LittleEndian.Uint32(data[44:48])
	copy(v.Reserved[:], data[48:96])

	return nil
}

// marshalCDB6 lays out a 6-byte CDB for use as the sg_io_hdr.cmdp buffer.
func marshalCDB6(c *CDB6) []byte {
	return []byte{c.OpCode, c.LbaHi, c.LbaMid, c.LbaLo, c.TransferLen, c.Control}
}

// marshalCDB10 lays out a 10-byte CDB.
func marshalCDB10(c *CDB10) []byte {
	buf := make([]byte, 10)
	buf[0] = c.OpCode
	buf[1] = c.Flags
	copy(buf[2:6], c.LBA[:])
	buf[6] = c.GroupNumber
	copy(buf[7:9], c.TransferLen[:])
	buf[9] = c.Control
	return buf
}

// marshalCDB12 lays out a 12-byte CDB.
func marshalCDB12(c *CDB12) []byte {
	buf := make([]byte, 12)
	buf[0] = c.OpCode
	buf[1] = c.Flags
	copy(buf[2:6], c.LBA[:])
	copy(buf[6:10], c.TransferLen[:])
	buf[10] = c.GroupNumber
	buf[11] = c.Control
	return buf
}

// marshalCDB16 lays out a 16-byte CDB.
func marshalCDB16(c *CDB16) []byte {
	buf := make([]byte, 16)
	buf[0] = c.OpCode
	buf[1] = c.Flags
	copy(buf[2:10], c.LBA[:])
	copy(buf[10:14], c.TransferLen[:])
	buf[14] = c.GroupNumber
	buf[15] = c.Control
	return buf
}

// directMarshal performs a direct memory copy for marshaling values that
// never leave process memory (e.g. SgIOHdr, passed to the ioctl by pointer).
func directMarshal(v interface{}) []byte {
	ptr := reflect.ValueOf(v).Pointer()
	size := int(reflect.TypeOf(v).Elem().Size())

	buf := make([]byte, size)
	src := (*[1 << 20]byte)(unsafe.Pointer(ptr))
	copy(buf, src[:size])

	return buf
}

// directUnmarshal performs a direct memory copy for unmarshaling.
func directUnmarshal(data []byte, v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return ErrInvalidType
	}
	size := int(rv.Elem().Type().Size())
	if len(data) < size {
		return ErrInsufficientData
	}

	dst := (*[1 << 20]byte)(unsafe.Pointer(rv.Pointer()))
	copy(dst[:size], data[:size])

	return nil
}

// MarshalError is a lightweight string-constant error type, mirroring the
// rest of this package's error taxonomy.
type MarshalError string

func (e MarshalError) Error() string {
	return string(e)
}

const (
	ErrInsufficientData MarshalError = "insufficient data for unmarshaling"
	ErrInvalidType      MarshalError = "invalid type for marshaling"
)
