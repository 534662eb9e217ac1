//go:build linux

package uringcore

import (
	"sync/atomic"
)

// CQE is the Completion Queue Entry: user_data(8) | res(4) | flags(4),
// little-endian, exactly as spec.md §6 requires bit-for-bit.
type CQE struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

const (
	cqeFlagNone = 0
)

func (o CQOffsets) headPtr(buf []byte) *uint32 { return ptrU32(buf, o.Head) }
func (o CQOffsets) tailPtr(buf []byte) *uint32 { return ptrU32(buf, o.Tail) }

// PeekCQE returns the next completion without consuming it, for the
// application side of this process to drain. Mirrors the teacher's
// PeekCQE/SeenCQE split.
func (c *Context) PeekCQE() (userData uint64, res int32, flags uint32, ok bool) {
	head := atomic.LoadUint32(c.cq.off.headPtr(c.cq.buf))
	tail := atomic.LoadUint32(c.cq.off.tailPtr(c.cq.buf))
	if head == tail {
		return 0, 0, 0, false
	}
	cqe := &c.cq.cqes[head&c.cqMask]
	return cqe.UserData, cqe.Res, cqe.Flags, true
}

// SeenCQE advances the CQ head by one, marking the peeked CQE consumed.
func (c *Context) SeenCQE() {
	head := atomic.LoadUint32(c.cq.off.headPtr(c.cq.buf))
	atomic.StoreUint32(c.cq.off.headPtr(c.cq.buf), head+1)
}

// SeenCQEs advances the CQ head by n.
func (c *Context) SeenCQEs(n uint32) {
	head := atomic.LoadUint32(c.cq.off.headPtr(c.cq.buf))
	atomic.StoreUint32(c.cq.off.headPtr(c.cq.buf), head+n)
}

// CQOverflow returns the monotonic count of completions dropped
// because the CQ was full at publish time (spec.md §4.1, §7).
func (c *Context) CQOverflow() uint32 {
	return atomic.LoadUint32(c.cq.off.ptrOverflow(c.cq.buf))
}

func (o CQOffsets) ptrOverflow(buf []byte) *uint32 { return ptrU32(buf, o.Overflow) }

// reserveCQESlot implements spec.md §4.1's CQ producer publish: the
// slot at localTail is allocated only if fewer than cq_entries
// completions are unconsumed (localTail-head < cq_entries, head observed
// with an acquire load), so all cq_entries slots can be filled;
// otherwise the overflow counter is bumped and the completion is
// dropped. Returns the slot and whether it was allocated; the caller
// advances the tail with commitCQTail once its slots are written.
func (c *Context) reserveCQESlot(localTail uint32) (*CQE, bool) {
	head := atomic.LoadUint32(c.cq.off.headPtr(c.cq.buf))
	if localTail-head >= c.cqEntries {
		atomic.AddUint32(c.cq.off.ptrOverflow(c.cq.buf), 1)
		return nil, false
	}
	return &c.cq.cqes[localTail&c.cqMask], true
}

// commitCQTail release-stores the new CQ tail, then emits a
// store-store fence before waking waiters — spec.md §4.1's "a woken
// waiter cannot observe the new tail but stale CQE fields" guarantee.
// atomic.StoreUint32 is itself a release on amd64/arm64; the explicit
// second store (the wakeup path's own atomic operations) provides the
// additional ordering spec.md calls for.
func (c *Context) commitCQTail(newTail uint32) {
	atomic.StoreUint32(c.cq.off.tailPtr(c.cq.buf), newTail)
	c.wakeCQWaiters()
}

// publishCQE is the single-completion publish path used by the
// callback-driven pipeline (§4.5.2) and by inline submit failures: it
// reserves one slot, writes it, and commits the tail immediately.
func (c *Context) publishCQE(userData uint64, res int32, flags uint32) {
	c.cqMu.Lock()
	tail := atomic.LoadUint32(c.cq.off.tailPtr(c.cq.buf))
	slot, ok := c.reserveCQESlot(tail)
	if !ok {
		c.cqMu.Unlock()
		return
	}
	slot.UserData = userData
	slot.Res = res
	slot.Flags = flags
	c.commitCQTail(tail + 1)
	c.cqMu.Unlock()
}

// cqeEntry is one completion queued for a batched publish (used by the
// polled harvester's flush, spec.md §4.5.1: "publish the CQ tail once
// per flush").
type cqeEntry struct {
	userData uint64
	res      int32
	flags    uint32
}

// publishCQEBatch writes as many entries as fit (dropping+counting
// overflow for the rest) and commits the CQ tail exactly once.
func (c *Context) publishCQEBatch(entries []cqeEntry) {
	if len(entries) == 0 {
		return
	}
	c.cqMu.Lock()
	tail := atomic.LoadUint32(c.cq.off.tailPtr(c.cq.buf))
	written := uint32(0)
	for _, e := range entries {
		slot, ok := c.reserveCQESlot(tail + written)
		if !ok {
			continue
		}
		slot.UserData = e.userData
		slot.Res = e.res
		slot.Flags = e.flags
		written++
	}
	if written > 0 {
		c.commitCQTail(tail + written)
	}
	c.cqMu.Unlock()
}
