package sdk

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrResourceBusy is returned for a conflicting mount/unmount attempt
	// or a full outbound buffer.
	ErrResourceBusy = errors.New("resource busy")
	// ErrNotFound is returned for an unknown route, device, connection or command.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for a malformed request payload.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAllocation is returned when a single request's buffer cannot be
	// allocated.
	ErrAllocation = errors.New("allocation failure")
	// ErrFaulted is returned for any operation on a faulted device.
	ErrFaulted = errors.New("device faulted")
	// ErrUnsupported is returned for operations a device does not implement.
	ErrUnsupported = errors.New("unsupported")
)

// IOError is an underlying storage or network failure.
type IOError struct {
	Op   string
	Code int
	Err  error
}

// NewIOError wraps err, taking the code from a syscall.Errno when present.
func NewIOError(op string, err error) *IOError {
	e := &IOError{Op: op, Err: err, Code: -1}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Code = int(errno)
	}
	return e
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v (code %d)", e.Op, e.Err, e.Code)
}

func (e *IOError) Unwrap() error { return e.Err }

// ErrorCode maps err to the short code used on the wire.
func ErrorCode(err error) string {
	var ioe *IOError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrResourceBusy):
		return "busy"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid-argument"
	case errors.Is(err, ErrAllocation):
		return "allocation"
	case errors.Is(err, ErrFaulted):
		return "faulted"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.As(err, &ioe):
		return "io"
	default:
		return "internal"
	}
}
