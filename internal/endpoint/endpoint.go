// Package endpoint opens and classifies the source and destination of a
// copy job: sg character devices, block devices, regular files, named
// pipes, /dev/null, and the in-process synthetic pattern generator.
package endpoint

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sgcopy/sgcopy/internal/uapi"
)

// Kind classifies what an Endpoint is backed by, mirroring the fd_type
// distinctions sg_in_open/sg_out_open make in the original tool.
type Kind int

const (
	KindCharOther Kind = iota
	KindSG
	KindBlock
	KindRegular
	KindFIFO
	KindNull
	KindTape
	KindSynthetic
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSG:
		return "sg"
	case KindBlock:
		return "block"
	case KindRegular:
		return "regular"
	case KindFIFO:
		return "fifo"
	case KindNull:
		return "null"
	case KindTape:
		return "tape"
	case KindSynthetic:
		return "synthetic"
	case KindError:
		return "error"
	default:
		return "char"
	}
}

// Endpoint is one side (in or out) of a copy job.
type Endpoint interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)

	// Size returns the endpoint's size in bytes, or -1 if unknown (e.g. a
	// pipe or a tape).
	Size() int64

	Close() error

	Kind() Kind

	// Fd returns the underlying file descriptor, for passthrough and share
	// to operate on directly via ioctl.
	Fd() int

	// ReservedBufferSize returns the fd's current SG_GET_RESERVED_SIZE
	// value, or zero for non-sg endpoints.
	ReservedBufferSize() int
}

// Syncer is implemented by endpoints that support fsync/fdatasync.
type Syncer interface {
	Sync() error
}

// Sharer is implemented by endpoints whose fd can participate in
// SG_SET_GET_EXTENDED buffer sharing.
type Sharer interface {
	SupportsSharing() bool
}

// OpenOptions controls how Open prepares an endpoint.
type OpenOptions struct {
	WriteAccess   bool
	DirectIO      bool // O_DIRECT, ignored for endpoints that don't support it
	Truncate      bool // create/truncate a regular output file to Size
	Size          int64
	ReservedBytes int // requested SG_SET_RESERVED_SIZE, 0 = leave as-is
	Create        bool
	CreateMode    os.FileMode

	// DenyList, if set, is checked against path before Open does
	// anything else with it.
	DenyList *DenyList
}

// Open classifies and opens path, returning an Endpoint appropriate to its
// kind.
func Open(path string, opts OpenOptions) (Endpoint, error) {
	if denied, reason := opts.DenyList.Denied(path); denied {
		return nil, fmt.Errorf("endpoint %q denied: %s", path, reason)
	}

	if path == "/dev/null" {
		return &nullEndpoint{}, nil
	}

	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if os.IsNotExist(err) && opts.WriteAccess && opts.Create {
			return openRegular(path, opts)
		}
		return nil, err
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFCHR:
		return openCharDevice(path, st, opts)
	case unix.S_IFBLK:
		return openBlockDevice(path, opts)
	case unix.S_IFIFO:
		return openFIFO(path, opts)
	case unix.S_IFREG:
		return openRegular(path, opts)
	default:
		return openRegular(path, opts)
	}
}

// openCharDevice distinguishes an sg device (one on which
// SG_GET_VERSION_NUM succeeds) from a generic character device, and from
// a tape device (st_rdev major 9 on Linux).
func openCharDevice(path string, st unix.Stat_t, opts OpenOptions) (Endpoint, error) {
	flags := unix.O_RDWR
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		if opts.WriteAccess {
			return nil, err
		}
		fd, err = unix.Open(path, unix.O_RDONLY, 0)
		if err != nil {
			return nil, err
		}
	}

	if _, err := unix.IoctlGetInt(fd, uapi.SG_GET_VERSION_NUM); err == nil {
		e := &sgEndpoint{fd: fd, path: path}
		if opts.ReservedBytes > 0 {
			_ = e.setReservedSize(opts.ReservedBytes)
		}
		return e, nil
	}

	major := unix.Major(uint64(st.Rdev))
	if major == tapeMajor {
		return &tapeEndpoint{fd: fd}, nil
	}

	return &charEndpoint{fd: fd}, nil
}

const tapeMajor = 9

func openBlockDevice(path string, opts OpenOptions) (Endpoint, error) {
	flags := unix.O_RDWR
	if !opts.WriteAccess {
		flags = unix.O_RDONLY
	}
	if opts.DirectIO {
		flags |= unix.O_DIRECT
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, err
	}
	size, _ := unix.IoctlGetInt(fd, unix.BLKGETSIZE64)
	return &blockEndpoint{fd: fd, size: int64(size)}, nil
}

func openFIFO(path string, opts OpenOptions) (Endpoint, error) {
	flags := unix.O_RDONLY
	if opts.WriteAccess {
		flags = unix.O_WRONLY
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, err
	}
	return &fifoEndpoint{fd: fd}, nil
}

func openRegular(path string, opts OpenOptions) (Endpoint, error) {
	flags := unix.O_RDONLY
	perm := os.FileMode(0644)
	if opts.WriteAccess {
		flags = unix.O_WRONLY | unix.O_CREAT
		if opts.CreateMode != 0 {
			perm = opts.CreateMode
		}
		if opts.Truncate {
			flags |= unix.O_TRUNC
		}
	}
	if opts.DirectIO {
		flags |= unix.O_DIRECT
	}
	fd, err := unix.Open(path, flags, uint32(perm))
	if err != nil {
		return nil, err
	}
	if opts.WriteAccess && opts.Size > 0 {
		_ = unix.Ftruncate(fd, opts.Size)
	}
	var st unix.Stat_t
	size := int64(-1)
	if unix.Fstat(fd, &st) == nil {
		size = st.Size
	}
	return &regularEndpoint{fd: fd, size: size}, nil
}

// sgEndpoint is an sg character device, the primary endpoint kind this
// engine exists to drive.
type sgEndpoint struct {
	fd   int
	path string

	mu       sync.Mutex
	reserved int
}

func (e *sgEndpoint) ReadAt(p []byte, off int64) (int, error) {
	return 0, errUseEngine
}
func (e *sgEndpoint) WriteAt(p []byte, off int64) (int, error) {
	return 0, errUseEngine
}
func (e *sgEndpoint) Size() int64 { return -1 }
func (e *sgEndpoint) Close() error {
	return unix.Close(e.fd)
}
func (e *sgEndpoint) Kind() Kind { return KindSG }
func (e *sgEndpoint) Fd() int    { return e.fd }
func (e *sgEndpoint) ReservedBufferSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reserved > 0 {
		return e.reserved
	}
	size, err := unix.IoctlGetInt(e.fd, uapi.SG_GET_RESERVED_SIZE)
	if err != nil {
		return 0
	}
	e.reserved = size
	return size
}
func (e *sgEndpoint) setReservedSize(bytes int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := unix.IoctlSetInt(e.fd, uapi.SG_SET_RESERVED_SIZE, bytes); err != nil {
		return err
	}
	e.reserved = bytes
	return nil
}
func (e *sgEndpoint) SupportsSharing() bool { return true }

var _ Endpoint = (*sgEndpoint)(nil)
var _ Sharer = (*sgEndpoint)(nil)

// errUseEngine signals that sg endpoints are driven via internal/passthrough
// rather than ordinary ReadAt/WriteAt; block and regular endpoints below
// implement real I/O for the fallback (unshared, non-sg) path.
var errUseEngine = &kindError{"sg endpoints are driven via internal/passthrough, not ReadAt/WriteAt"}

type kindError struct{ msg string }

func (e *kindError) Error() string { return e.msg }

// blockEndpoint is a raw block device (/dev/sdX, /dev/nvme0n1, ...),
// accessed with ordinary pread/pwrite; used for the unshared fallback path
// and for endpoints that aren't themselves sg devices.
type blockEndpoint struct {
	fd   int
	size int64
}

func (e *blockEndpoint) ReadAt(p []byte, off int64) (int, error)  { return unix.Pread(e.fd, p, off) }
func (e *blockEndpoint) WriteAt(p []byte, off int64) (int, error) { return unix.Pwrite(e.fd, p, off) }
func (e *blockEndpoint) Size() int64                              { return e.size }
func (e *blockEndpoint) Close() error                             { return unix.Close(e.fd) }
func (e *blockEndpoint) Kind() Kind                               { return KindBlock }
func (e *blockEndpoint) Fd() int                                  { return e.fd }
func (e *blockEndpoint) ReservedBufferSize() int                  { return 0 }
func (e *blockEndpoint) Sync() error                              { return unix.Fsync(e.fd) }

var _ Endpoint = (*blockEndpoint)(nil)
var _ Syncer = (*blockEndpoint)(nil)

// regularEndpoint is a plain file.
type regularEndpoint struct {
	fd   int
	size int64
}

func (e *regularEndpoint) ReadAt(p []byte, off int64) (int, error)  { return unix.Pread(e.fd, p, off) }
func (e *regularEndpoint) WriteAt(p []byte, off int64) (int, error) { return unix.Pwrite(e.fd, p, off) }
func (e *regularEndpoint) Size() int64                              { return e.size }
func (e *regularEndpoint) Close() error                             { return unix.Close(e.fd) }
func (e *regularEndpoint) Kind() Kind                               { return KindRegular }
func (e *regularEndpoint) Fd() int                                  { return e.fd }
func (e *regularEndpoint) ReservedBufferSize() int                  { return 0 }
func (e *regularEndpoint) Sync() error                              { return unix.Fsync(e.fd) }

var _ Endpoint = (*regularEndpoint)(nil)
var _ Syncer = (*regularEndpoint)(nil)

// fifoEndpoint is a named pipe: unseekable, so ReadAt/WriteAt ignore off and
// require monotonically increasing sequential access from the caller.
type fifoEndpoint struct {
	fd int
}

func (e *fifoEndpoint) ReadAt(p []byte, off int64) (int, error)  { return unix.Read(e.fd, p) }
func (e *fifoEndpoint) WriteAt(p []byte, off int64) (int, error) { return unix.Write(e.fd, p) }
func (e *fifoEndpoint) Size() int64                              { return -1 }
func (e *fifoEndpoint) Close() error                             { return unix.Close(e.fd) }
func (e *fifoEndpoint) Kind() Kind                                { return KindFIFO }
func (e *fifoEndpoint) Fd() int                                   { return e.fd }
func (e *fifoEndpoint) ReservedBufferSize() int                   { return 0 }

var _ Endpoint = (*fifoEndpoint)(nil)

// charEndpoint is a generic (non-sg) character device, read/written like a
// FIFO.
type charEndpoint struct {
	fd int
}

func (e *charEndpoint) ReadAt(p []byte, off int64) (int, error)  { return unix.Read(e.fd, p) }
func (e *charEndpoint) WriteAt(p []byte, off int64) (int, error) { return unix.Write(e.fd, p) }
func (e *charEndpoint) Size() int64                              { return -1 }
func (e *charEndpoint) Close() error                             { return unix.Close(e.fd) }
func (e *charEndpoint) Kind() Kind                                { return KindCharOther }
func (e *charEndpoint) Fd() int                                   { return e.fd }
func (e *charEndpoint) ReservedBufferSize() int                   { return 0 }

var _ Endpoint = (*charEndpoint)(nil)

// tapeEndpoint is a magnetic tape device (st0-style), sequential and
// unseekable like a FIFO but with a distinct Kind for stats reporting.
type tapeEndpoint struct {
	fd int
}

func (e *tapeEndpoint) ReadAt(p []byte, off int64) (int, error)  { return unix.Read(e.fd, p) }
func (e *tapeEndpoint) WriteAt(p []byte, off int64) (int, error) { return unix.Write(e.fd, p) }
func (e *tapeEndpoint) Size() int64                              { return -1 }
func (e *tapeEndpoint) Close() error                             { return unix.Close(e.fd) }
func (e *tapeEndpoint) Kind() Kind                                { return KindTape }
func (e *tapeEndpoint) Fd() int                                   { return e.fd }
func (e *tapeEndpoint) ReservedBufferSize() int                   { return 0 }

var _ Endpoint = (*tapeEndpoint)(nil)

// nullEndpoint discards writes and returns EOF on read, mirroring
// sg_mrq_dd/sgh_dd treatment of "/dev/null" as an output sink.
type nullEndpoint struct{}

func (nullEndpoint) ReadAt(p []byte, off int64) (int, error)  { return 0, nil }
func (nullEndpoint) WriteAt(p []byte, off int64) (int, error) { return len(p), nil }
func (nullEndpoint) Size() int64                              { return -1 }
func (nullEndpoint) Close() error                             { return nil }
func (nullEndpoint) Kind() Kind                                { return KindNull }
func (nullEndpoint) Fd() int                                   { return -1 }
func (nullEndpoint) ReservedBufferSize() int                   { return 0 }

var _ Endpoint = (*nullEndpoint)(nil)
