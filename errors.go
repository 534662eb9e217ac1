package uringcore

import (
	"errors"
	"syscall"
)

// Common errors returned by the public API. Per spec the wire protocol
// never uses errno globals — these are Go-level errors surfaced from
// Setup/Enter/Close; per-operation failures travel as a negative CQE
// result (see negErrno).
var (
	ErrClosed       = errors.New("uringcore: context closed")
	ErrInvalidDepth = errors.New("uringcore: depth must be in (0, 4096]")
	ErrReservedSet  = errors.New("uringcore: reserved params field must be zero")
	ErrNotSupported = errors.New("uringcore: operation not supported by this context")

	// ErrInterrupted is returned by Enter when the CQ wait was woken by
	// an external interrupt (see Context.Interrupt) before min_complete
	// was satisfied.
	ErrInterrupted = syscall.EINTR

	// ErrResourceExhausted signals the allocator-failure-on-first-SQE
	// case of spec.md §7: it only escapes Enter when nothing at all was
	// submitted in the batch.
	ErrResourceExhausted = errors.New("uringcore: no requests available")

	// ErrQueued is returned by a File's Readv/Writev to indicate the
	// operation was handed to the device and will complete later via the
	// supplied CompletionFunc, rather than synchronously or would-block.
	ErrQueued = errors.New("uringcore: operation queued for async completion")
)

// errWouldBlock is the internal control-flow sentinel for spec.md's
// "would-block (transient)" result: never surfaced to the application,
// it only tells the submit pipeline to defer to the offload worker.
var errWouldBlock = syscall.EAGAIN

// negErrno converts a Go error into the negative result code that would
// occupy a CQE's res field. Unrecognized errors collapse to -EIO rather
// than leaking a Go-specific error value onto the wire.
func negErrno(err error) int32 {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int32(errno)
	}
	return -int32(syscall.EIO)
}
