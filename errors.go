package sgcopy

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured copy-engine error with sg-command context
// and errno mapping.
type Error struct {
	Op      string        // Operation that failed (e.g., "SHARE_PREPARE", "START_IO")
	Side    string         // "in", "out", or "" if not applicable
	Segment int64         // Segment index (-1 if not applicable)
	PackID  int32         // sg pack_id of the command involved (0 if not applicable)
	Code    ErrorCode     // High-level error category
	Errno   syscall.Errno // Kernel errno (0 if not applicable)
	Msg     string        // Human-readable message
	Inner   error         // Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Side != "" {
		parts = append(parts, fmt.Sprintf("side=%s", e.Side))
	}

	if e.Segment >= 0 {
		parts = append(parts, fmt.Sprintf("segment=%d", e.Segment))
	}

	if e.PackID != 0 {
		parts = append(parts, fmt.Sprintf("pack_id=%d", e.PackID))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("sgcopy: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("sgcopy: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support for both Error and the legacy CopyError
// sentinel type.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if ce, ok := target.(CopyError); ok {
		return e.Code == ErrorCode(ce)
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents high-level error categories, covering both
// operational failures and sense-data classifications surfaced from a
// finished SCSI command.
type ErrorCode string

const (
	ErrCodeNotImplemented     ErrorCode = "not implemented"
	ErrCodeDeviceNotFound     ErrorCode = "device not found"
	ErrCodeDeviceBusy         ErrorCode = "device busy"
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeKernelNotSupported ErrorCode = "kernel does not support sg sharing"
	ErrCodePermissionDenied   ErrorCode = "permission denied"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeIOError            ErrorCode = "I/O error"
	ErrCodeTimeout            ErrorCode = "command timeout"
	ErrCodeShareUnavailable   ErrorCode = "buffer sharing unavailable"

	// Sense-data classifications (see internal/passthrough/sense.go).
	ErrCodeRecovered      ErrorCode = "recovered error"
	ErrCodeUnitAttention  ErrorCode = "unit attention"
	ErrCodeMediumHard     ErrorCode = "medium or hardware error"
	ErrCodeMiscompare     ErrorCode = "miscompare"
	ErrCodeNotReady       ErrorCode = "not ready"
	ErrCodeAbortedCommand ErrorCode = "aborted command"
	ErrCodeOtherSense     ErrorCode = "unclassified sense data"
)

// CopyError is a legacy string-constant error type, retained alongside the
// structured Error for simple sentinel comparisons.
type CopyError string

func (e CopyError) Error() string {
	return string(e)
}

const (
	ErrNotImplemented     CopyError = "not implemented"
	ErrDeviceNotFound     CopyError = "device not found"
	ErrDeviceBusy         CopyError = "device busy"
	ErrInvalidParameters  CopyError = "invalid parameters"
	ErrKernelNotSupported CopyError = "kernel does not support sg sharing"
	ErrPermissionDenied   CopyError = "permission denied"
	ErrInsufficientMemory CopyError = "insufficient memory"
	ErrShareUnavailable   CopyError = "buffer sharing unavailable"
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:      op,
		Segment: -1,
		Code:    code,
		Msg:     msg,
	}
}

// NewErrorWithErrno creates a new structured error carrying an errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:      op,
		Segment: -1,
		Code:    code,
		Errno:   errno,
		Msg:     errno.Error(),
	}
}

// NewSegmentError creates an error tied to a specific segment and side.
func NewSegmentError(op string, side string, segment int64, code ErrorCode, msg string) *Error {
	return &Error{
		Op:      op,
		Side:    side,
		Segment: segment,
		Code:    code,
		Msg:     msg,
	}
}

// NewCommandError creates an error tied to a pack_id, for failures surfaced
// out of a v3/v4 finish_io call.
func NewCommandError(op string, packID int32, code ErrorCode, msg string) *Error {
	return &Error{
		Op:      op,
		Segment: -1,
		PackID:  packID,
		Code:    code,
		Msg:     msg,
	}
}

// WrapError wraps an existing error with sgcopy context.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if ce, ok := inner.(*Error); ok {
		return &Error{
			Op:      op,
			Side:    ce.Side,
			Segment: ce.Segment,
			PackID:  ce.PackID,
			Code:    ce.Code,
			Errno:   ce.Errno,
			Msg:     ce.Msg,
			Inner:   ce.Inner,
		}
	}

	code := ErrCodeIOError
	if errno, ok := inner.(syscall.Errno); ok {
		code = mapErrnoToCode(errno)
		return &Error{
			Op:      op,
			Segment: -1,
			Code:    code,
			Errno:   errno,
			Msg:     errno.Error(),
			Inner:   inner,
		}
	}

	return &Error{
		Op:      op,
		Segment: -1,
		Code:    code,
		Msg:     inner.Error(),
		Inner:   inner,
	}
}

// mapErrnoToCode maps syscall errno to sgcopy error codes.
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENOENT:
		return ErrCodeDeviceNotFound
	case syscall.EBUSY:
		return ErrCodeDeviceBusy
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOSYS, syscall.EOPNOTSUPP:
		return ErrCodeKernelNotSupported
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.ENODATA:
		return ErrCodeOtherSense
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code.
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Errno == errno
	}
	return false
}
