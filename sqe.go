//go:build linux

package uringcore

import (
	"sync/atomic"
	"syscall"
	"unsafe"
)

// SQE is the Submission Queue Entry: a fixed 64-byte record matching
// spec.md §3's layout, analogous to the teacher's internal/sys.SQE but
// owned directly by this package since there is no kernel struct to
// mirror — this struct *is* the wire format.
type SQE struct {
	Opcode   uint8
	Flags    uint8
	Ioprio   uint16
	Fd       uint32
	Off      uint64 // file offset, or range start for FSYNC
	Addr     uint64 // iovec array pointer (READV/WRITEV)
	Len      uint32 // iovec count, or FSYNC range length
	RWFlags  uint32 // rw_flags / fsync_flags union
	UserData uint64
	_pad     [3]uint64 // reserved to fill out the 64-byte record
}

// Reset clears the SQE to its zero value.
func (s *SQE) Reset() { *s = SQE{} }

// snapshotSQE is the "volatile snapshot" primitive the design notes
// (spec.md §9) call for: the application may mutate the SQE between
// field reads, so every datum used for dispatch correctness is loaded
// exactly once here and the local copy is trusted from then on. The
// compiler may not reorder or re-read through this copy — do not read
// from *src again after calling this.
func snapshotSQE(src *SQE) SQE {
	return *src
}

// getSQE returns a pointer to the next free SQ slot for the
// application side of this process to fill in, or nil if the queue is
// full. Mirrors the teacher's getSQE/GetSQE split (unlocked/locked).
func (c *Context) getSQE() *SQE {
	head := atomic.LoadUint32(c.sq.off.headPtr(c.sq.buf))
	tail := c.sqProducerTail
	if tail-head >= c.sqEntries {
		return nil
	}
	idx := tail & c.sqMask
	c.sq.array[idx] = idx
	sqe := &c.sqes[idx]
	sqe.Reset()
	c.sqProducerTail = tail + 1
	return sqe
}

// publishSQTail makes pending SQEs visible to the consumer side with a
// release store, per spec.md §4.1.
func (c *Context) publishSQTail() {
	atomic.StoreUint32(c.sq.off.tailPtr(c.sq.buf), c.sqProducerTail)
}

// PrepNOP queues a NOP with the given echo token. Returns false if the
// SQ is full.
func (c *Context) PrepNOP(userData uint64) bool {
	c.sqProducerMu.Lock()
	defer c.sqProducerMu.Unlock()
	sqe := c.getSQE()
	if sqe == nil {
		return false
	}
	sqe.Opcode = uint8(OpNOP)
	sqe.UserData = userData
	c.publishSQTail()
	return true
}

// PrepReadv queues a vectored read. iov must stay valid until the
// completion for userData is observed.
func (c *Context) PrepReadv(fd uint32, iov []syscall.Iovec, off uint64, userData uint64) bool {
	if len(iov) == 0 {
		return false
	}
	c.sqProducerMu.Lock()
	defer c.sqProducerMu.Unlock()
	sqe := c.getSQE()
	if sqe == nil {
		return false
	}
	sqe.Opcode = uint8(OpReadv)
	sqe.Fd = fd
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&iov[0])))
	sqe.Len = uint32(len(iov))
	sqe.Off = off
	sqe.UserData = userData
	c.publishSQTail()
	return true
}

// PrepWritev queues a vectored write. iov must stay valid until the
// completion for userData is observed.
func (c *Context) PrepWritev(fd uint32, iov []syscall.Iovec, off uint64, userData uint64) bool {
	if len(iov) == 0 {
		return false
	}
	c.sqProducerMu.Lock()
	defer c.sqProducerMu.Unlock()
	sqe := c.getSQE()
	if sqe == nil {
		return false
	}
	sqe.Opcode = uint8(OpWritev)
	sqe.Fd = fd
	sqe.Addr = uint64(uintptr(unsafe.Pointer(&iov[0])))
	sqe.Len = uint32(len(iov))
	sqe.Off = off
	sqe.UserData = userData
	c.publishSQTail()
	return true
}

// PrepFsync queues a range fsync. length 0 means "to EOF".
func (c *Context) PrepFsync(fd uint32, off, length uint64, datasync bool, userData uint64) bool {
	c.sqProducerMu.Lock()
	defer c.sqProducerMu.Unlock()
	sqe := c.getSQE()
	if sqe == nil {
		return false
	}
	sqe.Opcode = uint8(OpFsync)
	sqe.Fd = fd
	sqe.Off = off
	sqe.Len = uint32(length)
	if datasync {
		sqe.RWFlags = FsyncDatasync
	}
	sqe.UserData = userData
	c.publishSQTail()
	return true
}

func (o SQOffsets) headPtr(buf []byte) *uint32    { return ptrU32(buf, o.Head) }
func (o SQOffsets) tailPtr(buf []byte) *uint32    { return ptrU32(buf, o.Tail) }
func (o SQOffsets) droppedPtr(buf []byte) *uint32 { return ptrU32(buf, o.Dropped) }
