//go:build linux

package uringcore

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// cqWaitQueue is the CQ side wait queue of spec.md §5: one per
// context, woken by commitCQTail (§4.1), the callback path (§4.5.2),
// and Context.Interrupt.
type cqWaitQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
}

func newCQWaitQueue() *cqWaitQueue {
	wq := &cqWaitQueue{}
	wq.cond = sync.NewCond(&wq.mu)
	return wq
}

// wakeCQWaiters is called by commitCQTail after the release-store of
// the new tail, per spec.md §4.1's "emit a second store-store fence
// before signalling waiters" — the Lock/Unlock around Broadcast
// already provides that ordering.
func (c *Context) wakeCQWaiters() {
	c.waitQ.mu.Lock()
	c.waitQ.cond.Broadcast()
	c.waitQ.mu.Unlock()
	c.notifyReadable()
}

// Interrupt delivers a signal-like event to any goroutine blocked in a
// CQ wait, satisfying scenario 6's "signal-interrupted wait" without a
// real OS signal: there is no single OS thread pinned to one CQ
// waiter the way a real kernel's task would be, so a monotonic counter
// plus a broadcast stands in for "a pending interrupt-like condition
// is detected" (spec.md §4.6 step 3).
func (c *Context) Interrupt() {
	c.interruptSeq.Add(1)
	c.wakeCQWaiters()
}

func (c *Context) cqAvailable() uint32 {
	tail := atomic.LoadUint32(c.cq.off.tailPtr(c.cq.buf))
	head := atomic.LoadUint32(c.cq.off.headPtr(c.cq.buf))
	return tail - head
}

// cqWait implements spec.md §4.6's non-polled wait protocol.
func (c *Context) cqWait(min int) error {
	if min <= 0 {
		return nil
	}
	m := uint32(min)
	if c.cqAvailable() >= m {
		return nil
	}

	seqBefore := c.interruptSeq.Load()

	var oldset unix.Sigset_t
	maskInstalled := installWaitSignalMask(&oldset) == nil
	if maskInstalled {
		defer restoreWaitSignalMask(&oldset)
	}

	c.waitQ.mu.Lock()
	defer c.waitQ.mu.Unlock()
	for {
		if c.cqAvailable() >= m {
			return nil
		}
		c.waitQ.cond.Wait()
		if c.interruptSeq.Load() != seqBefore {
			if c.cqAvailable() >= m {
				return nil
			}
			return ErrInterrupted
		}
	}
}

// installWaitSignalMask blocks all signals on the calling OS thread
// for the duration of a CQ wait, standing in for the "user-provided
// signal mask pointer" spec.md §4.6 step 2 describes — the mask
// contents themselves are out of scope (spec.md §1), only the
// install/restore protocol around the wait is normative. Go does not
// pin a goroutine to one OS thread across a cond.Wait, so this is
// best-effort: it affects whichever thread happens to run this call.
func installWaitSignalMask(oldset *unix.Sigset_t) error {
	var newset unix.Sigset_t
	unix.SigfillSet(&newset)
	return unix.PthreadSigmask(unix.SIG_SETMASK, &newset, oldset)
}

func restoreWaitSignalMask(oldset *unix.Sigset_t) {
	_ = unix.PthreadSigmask(unix.SIG_SETMASK, oldset, nil)
}
