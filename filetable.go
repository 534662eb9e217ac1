//go:build linux

package uringcore

import (
	"sync"
	"sync/atomic"
	"syscall"
)

// CompletionFunc is invoked exactly once by a File implementation that
// returned ErrQueued, delivering the final result from whatever context
// the device signals completion in (spec.md §4.5.2: "safe to call from
// any context that is not the owner of the uring lock").
type CompletionFunc func(n int32, err error)

// File is the abstract "file object with read/write/poll" contract
// spec.md §1 leaves as the only surface this core uses of the concrete
// filesystem/block drivers.
//
// Readv and Writev may:
//   - return (n, nil): synchronous success, n bytes transferred.
//   - return (0, ErrQueued): the op was handed off; complete will be
//     invoked exactly once later with the final result.
//   - return (0, errWouldBlock-equivalent syscall.EAGAIN) when nonblock
//     is true and the op cannot complete without blocking.
//   - return (0, err): any other failure.
//
// When nonblock is false the call may block the calling goroutine; it
// must not return EAGAIN in that mode except as a last resort (in a
// non-polled context the offload worker then completes the Request with
// -EAGAIN instead of retrying).
type File interface {
	Readv(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (n int, err error)
	Writev(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (n int, err error)
}

// Syncer is implemented by Files that support FSYNC. It is always
// invoked from the offload worker with blocking semantics (spec.md
// §4.4.1: "force_nonblock always returns would-block").
type Syncer interface {
	Fsync(off, length int64, datasync bool) error
}

// FileCaps are capability bits used to admit a File into polled mode.
type FileCaps uint32

const (
	FileCapDirectIO FileCaps = 1 << iota
	FileCapPollable
)

const filePollCaps = FileCapDirectIO | FileCapPollable

// Capper is implemented by Files that want to be eligible for polled
// mode. A File without this interface is treated as having no
// capabilities and is rejected by WithPolled contexts.
type Capper interface {
	Caps() FileCaps
}

// Poller is invoked by the polled harvester (§4.5.1) to make progress
// on a submitted operation. spin is a hint, not a correctness
// requirement: true when the caller can afford to busy-poll this file
// rather than yield.
type Poller interface {
	Poll(spin bool) (completed bool, err error)
}

type fileEntry struct {
	fd   uint32
	file File
	refs atomic.Int64
}

func (e *fileEntry) acquire(n int) { e.refs.Add(int64(n)) }
func (e *fileEntry) release(n int) { e.refs.Add(int64(-n)) }

// fileTable maps the application's opaque fd indices to registered
// File objects. Unlike a real fd table it never owns the File's
// lifetime; it only tracks the reference batching described in
// spec.md §4.3.
type fileTable struct {
	mu   sync.RWMutex
	byFD map[uint32]*fileEntry
}

func newFileTable() *fileTable {
	return &fileTable{byFD: make(map[uint32]*fileEntry)}
}

// Register installs f at fd, replacing any previous registration.
func (t *fileTable) Register(fd uint32, f File) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byFD[fd] = &fileEntry{fd: fd, file: f}
}

// Unregister removes fd. Any Requests still holding a reference to the
// entry keep it alive through their own pointer; this only stops new
// lookups from finding it.
func (t *fileTable) Unregister(fd uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byFD, fd)
}

func (t *fileTable) lookup(fd uint32) (*fileEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byFD[fd]
	return e, ok
}

// releaseFile drops n references previously acquired on e.
func (c *Context) releaseFile(e *fileEntry, n int) {
	if e == nil {
		return
	}
	e.release(n)
}
