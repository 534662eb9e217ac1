//go:build linux

package uringcore

import (
	"errors"
	"sync/atomic"
	"syscall"
	"unsafe"
)

// importIovec reconstructs the iovec array a PrepReadv/PrepWritev call
// pointed sqe.Addr at. The address was produced moments earlier in the
// same process from a real Go slice (sqe.go), so reversing it through
// a single unsafe.Pointer(uintptr(...)) conversion is the same trick
// the ring layout itself relies on throughout (spec.md §6 treats addr
// as a raw user pointer; there is no real separate address space to
// cross here).
func importIovec(addr uint64, n uint32) []syscall.Iovec {
	if addr == 0 || n == 0 {
		return nil
	}
	return unsafe.Slice((*syscall.Iovec)(unsafe.Pointer(uintptr(addr))), n)
}

// submitBatch implements the per-batch algorithm of spec.md §4.4: it
// drains up to toSubmit SQEs, dispatches each inline, defers any that
// would block to the offload worker, and commits the SQ head once at
// the end. It assumes the caller has serialized concurrent callers
// (Context.sqConsumerMu) since SQ is single-consumer.
func (c *Context) submitBatch(toSubmit uint32) (int, error) {
	if toSubmit > c.sqEntries {
		toSubmit = c.sqEntries
	}
	ss := &submitState{iosLeft: int(toSubmit)}
	submitted := 0
	var firstErr error

	localHead := atomic.LoadUint32(c.sq.off.headPtr(c.sq.buf))
	for i := uint32(0); i < toSubmit; i++ {
		tail := atomic.LoadUint32(c.sq.off.tailPtr(c.sq.buf))
		if localHead == tail {
			break
		}
		idx := c.sq.array[localHead&c.sqMask]
		localHead++
		if idx >= c.sqEntries {
			atomic.AddUint32(c.sq.off.droppedPtr(c.sq.buf), 1)
			continue
		}

		sqe := snapshotSQE(&c.sqes[idx])
		ss.iosLeft--
		if ss.iosLeft < 0 {
			ss.iosLeft = 0
		}

		req, ok := c.getRequest(ss)
		if !ok {
			if submitted == 0 && firstErr == nil {
				firstErr = ErrResourceExhausted
			}
			break
		}
		req.userData = sqe.UserData
		req.opcode = Opcode(sqe.Opcode)

		if sqe.Flags != 0 || req.opcode >= opLast {
			c.finishRequest(req, 0, syscall.EINVAL)
			submitted++
			continue
		}

		res, err, async := c.dispatchOpcode(req, &sqe, true, ss)
		switch {
		case async:
			submitted++
		case errors.Is(err, errWouldBlock):
			cp := sqe
			req.submitCopy = &cp
			req.flags |= reqForceNonblock
			if !c.worker.enqueue(req) {
				if req.file != nil {
					c.releaseFile(req.file, 1)
					req.file = nil
				}
				c.finishRequest(req, 0, syscall.EAGAIN)
			}
			submitted++
		default:
			c.finishRequest(req, res, err)
			submitted++
		}
	}

	atomic.StoreUint32(c.sq.off.headPtr(c.sq.buf), localHead)
	c.flushFileCache(ss)

	if submitted == 0 && firstErr != nil {
		return 0, firstErr
	}
	return submitted, nil
}

// finishRequest publishes a synchronous result and frees req. It must
// not be called for a Request whose dispatch returned async == true —
// ownership of publication has already moved elsewhere (queued
// callback or the polled harvester).
func (c *Context) finishRequest(req *Request, res int32, err error) {
	if err != nil {
		res = negErrno(err)
	}
	c.publishCQE(req.userData, res, cqeFlagNone)
	if req.file != nil {
		c.releaseFile(req.file, 1)
		req.file = nil
	}
	c.putRequest(req)
}

// dispatchOpcode runs the per-opcode submit path (spec.md §4.4.1).
// nonblock is the force_nonblock flag; ss is non-nil only on the
// inline fast path where Submit State batching applies. The returned
// async flag means the caller must do nothing further: either the
// file queued the op for later callback-driven completion, or the
// Request was linked into the Poll List.
func (c *Context) dispatchOpcode(req *Request, sqe *SQE, nonblock bool, ss *submitState) (res int32, err error, async bool) {
	switch req.opcode {
	case OpNOP:
		return c.doNOP(req)
	case OpReadv:
		return c.doReadv(req, sqe, nonblock, ss)
	case OpWritev:
		return c.doWritev(req, sqe, nonblock, ss)
	case OpFsync:
		return c.doFsync(req, sqe, nonblock, ss)
	default:
		return 0, syscall.EINVAL, false
	}
}

// doNOP posts res=0 echoing user_data. spec.md §9's open question on a
// NOP carrying a stale file reference is resolved conservatively, per
// the spec's explicit preference: report -EBADF and release the ref.
func (c *Context) doNOP(req *Request) (int32, error, bool) {
	if c.polled {
		return 0, syscall.EINVAL, false
	}
	if req.file != nil {
		c.releaseFile(req.file, 1)
		req.file = nil
		return negErrno(syscall.EBADF), nil, false
	}
	return 0, nil, false
}

func (c *Context) doReadv(req *Request, sqe *SQE, nonblock bool, ss *submitState) (int32, error, bool) {
	if c.polled {
		return c.doPolledRW(req, sqe, true)
	}
	entry, ok := c.acquireFileFor(req, sqe.Fd, ss)
	if !ok {
		return negErrno(syscall.EBADF), nil, false
	}
	iov := importIovec(sqe.Addr, sqe.Len)
	complete := func(n int32, ferr error) { c.completeAsync(req, n, ferr) }
	n, err := entry.file.Readv(iov, int64(sqe.Off), nonblock, complete)
	return c.resolveRWResult(req, entry, n, err)
}

func (c *Context) doWritev(req *Request, sqe *SQE, nonblock bool, ss *submitState) (int32, error, bool) {
	if c.polled {
		return c.doPolledRW(req, sqe, false)
	}
	entry, ok := c.acquireFileFor(req, sqe.Fd, ss)
	if !ok {
		return negErrno(syscall.EBADF), nil, false
	}
	iov := importIovec(sqe.Addr, sqe.Len)
	complete := func(n int32, ferr error) { c.completeAsync(req, n, ferr) }
	n, err := entry.file.Writev(iov, int64(sqe.Off), nonblock, complete)
	return c.resolveRWResult(req, entry, n, err)
}

// resolveRWResult maps a File.Readv/Writev outcome onto spec.md
// §4.4.1's READV/WRITEV result taxonomy. The three terminal branches
// clear req.file after releasing: entry may be the same reference a
// prior would-block deferral stashed there, and finishRequest releases
// req.file again if it is still non-nil.
func (c *Context) resolveRWResult(req *Request, entry *fileEntry, n int, err error) (int32, error, bool) {
	switch {
	case errors.Is(err, ErrQueued):
		req.file = entry
		return 0, nil, true
	case errors.Is(err, errWouldBlock):
		req.file = entry
		return 0, errWouldBlock, false
	case errors.Is(err, syscall.EINTR):
		c.releaseFile(entry, 1)
		req.file = nil
		return negErrno(syscall.EINTR), nil, false
	case err != nil:
		c.releaseFile(entry, 1)
		req.file = nil
		return negErrno(err), nil, false
	default:
		c.releaseFile(entry, 1)
		req.file = nil
		return int32(n), nil, false
	}
}

// doPolledRW implements the polled branch of spec.md §4.4.2: only
// direct-I/O, poll-capable files are accepted; the op is always handed
// to the file as non-blocking and the Request is linked into the Poll
// List regardless of whether the file answers synchronously.
func (c *Context) doPolledRW(req *Request, sqe *SQE, isRead bool) (int32, error, bool) {
	entry, ok := c.files.lookup(sqe.Fd)
	if !ok {
		return negErrno(syscall.EBADF), nil, false
	}
	capper, ok := entry.file.(Capper)
	if !ok || capper.Caps()&filePollCaps != filePollCaps {
		return negErrno(syscall.EINVAL), nil, false
	}

	entry.acquire(1)
	req.file = entry
	req.kind = reqKindPolled

	iov := importIovec(sqe.Addr, sqe.Len)
	complete := func(n int32, ferr error) {
		res := n
		if ferr != nil {
			res = negErrno(ferr)
		}
		c.polledComplete(req, res)
	}

	var n int
	var err error
	if isRead {
		n, err = entry.file.Readv(iov, int64(sqe.Off), true, complete)
	} else {
		n, err = entry.file.Writev(iov, int64(sqe.Off), true, complete)
	}
	if !errors.Is(err, ErrQueued) {
		res := int32(n)
		if err != nil {
			res = negErrno(err)
		}
		c.polledComplete(req, res)
	}
	c.linkPoll(req)
	return 0, nil, true
}

func (c *Context) doFsync(req *Request, sqe *SQE, nonblock bool, ss *submitState) (int32, error, bool) {
	if c.polled {
		return negErrno(syscall.EINVAL), nil, false
	}
	if nonblock {
		return 0, errWouldBlock, false
	}
	entry, ok := c.acquireFileFor(req, sqe.Fd, ss)
	if !ok {
		return negErrno(syscall.EBADF), nil, false
	}
	syncer, ok := entry.file.(Syncer)
	if !ok {
		c.releaseFile(entry, 1)
		return negErrno(syscall.EOPNOTSUPP), nil, false
	}
	datasync := sqe.RWFlags&FsyncDatasync != 0
	err := syncer.Fsync(int64(sqe.Off), int64(sqe.Len), datasync)
	c.releaseFile(entry, 1)
	if err != nil {
		return negErrno(err), nil, false
	}
	return 0, nil, false
}
