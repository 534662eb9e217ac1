//go:build linux

package uringcore

import (
	"sync"
	"sync/atomic"

	"github.com/behrlich/uringcore/internal/queue"
)

// reqKind distinguishes the two completion-publishing paths a Request
// can take, per spec.md §4.4.2.
type reqKind uint8

const (
	reqKindCallback reqKind = iota
	reqKindPolled
)

// reqFlag bits mirror spec.md §3's Request.flags.
type reqFlag uint32

const (
	reqForceNonblock reqFlag = 1 << iota
)

// Request is the internal in-flight record backing one submitted SQE.
// It owns at most one file reference (released exactly once) and, when
// deferred, an owned copy of the originating SQE (submitCopy) so the
// offload worker never dereferences the application's SQ memory.
type Request struct {
	ctx      *Context
	file     *fileEntry
	kind     reqKind
	flags    reqFlag
	opcode   Opcode
	userData uint64

	// result/completed back the polled-mode completion callback
	// (spec.md §4.5.2 and §9's "safe from any context" requirement):
	// both may be written from a device callback goroutine concurrently
	// with the harvester's read, hence the atomics instead of plain
	// fields guarded by the uring lock.
	result    atomic.Int32
	completed atomic.Bool

	submitCopy *SQE
	pollElem   *queue.Element[*Request]
}

func (r *Request) reset() {
	r.ctx = nil
	r.file = nil
	r.kind = reqKindCallback
	r.flags = 0
	r.opcode = 0
	r.userData = 0
	r.result.Store(0)
	r.completed.Store(false)
	r.submitCopy = nil
	r.pollElem = nil
}

// requestPool is the per-context slab-like allocator (spec.md §4.2).
// Go's GC removes the real resource-exhaustion failure mode a kernel
// slab worries about, so get/getBulk here always succeed; the bool
// return and bulk-refill shape are kept because Context.getRequest's
// contract (failure maps to would-block, amortized O(1) via the Submit
// State cache) is part of the submit pipeline's observable behaviour,
// not an implementation detail to drop.
type requestPool struct {
	mu   sync.Mutex
	free []*Request
}

func newRequestPool() *requestPool {
	return &requestPool{}
}

func (p *requestPool) get() *Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.free); n > 0 {
		r := p.free[n-1]
		p.free = p.free[:n-1]
		return r
	}
	return &Request{}
}

// getBulk returns up to n Requests, reusing the free list first and
// allocating fresh ones for the remainder.
func (p *requestPool) getBulk(n int) []*Request {
	if n <= 0 {
		return nil
	}
	out := make([]*Request, 0, n)
	p.mu.Lock()
	for len(out) < n && len(p.free) > 0 {
		last := len(p.free) - 1
		out = append(out, p.free[last])
		p.free = p.free[:last]
	}
	p.mu.Unlock()
	for len(out) < n {
		out = append(out, &Request{})
	}
	return out
}

func (p *requestPool) put(r *Request) {
	r.reset()
	p.mu.Lock()
	p.free = append(p.free, r)
	p.mu.Unlock()
}

func (p *requestPool) putBulk(rs []*Request) {
	if len(rs) == 0 {
		return
	}
	for _, r := range rs {
		r.reset()
	}
	p.mu.Lock()
	p.free = append(p.free, rs...)
	p.mu.Unlock()
}

// submitStateFileBatchCap bounds how many extra file references
// Submit State will acquire at once on a cache-fill, independent of
// how many ops remain in the batch.
const submitStateFileBatchCap = 8

// submitState is the per-enter transient batching helper of spec.md
// §3: a free-list cache of preallocated Requests, the most-recently-
// used file handle plus bulk-acquired extra references, and a
// remaining-ops counter that sizes both caches' refills.
type submitState struct {
	reqCache []*Request

	fdCached   uint32
	fileCached *fileEntry
	toRelease  int

	iosLeft int
}

// getRequest implements spec.md §4.2's get_request: with a Submit
// State, refill its cache in bulk (sized to what's left in the batch)
// before falling back; without one, single-allocate. Every successful
// get takes one context reference, released by putRequest.
func (c *Context) getRequest(ss *submitState) (*Request, bool) {
	if !c.refs.acquire() {
		return nil, false
	}
	var req *Request
	if ss != nil {
		if len(ss.reqCache) == 0 {
			refill := ss.iosLeft
			if refill < 1 {
				refill = 1
			}
			const cacheCap = 16
			if refill > cacheCap {
				refill = cacheCap
			}
			ss.reqCache = c.pool.getBulk(refill)
		}
		if len(ss.reqCache) == 0 {
			c.refs.release()
			return nil, false
		}
		last := len(ss.reqCache) - 1
		req = ss.reqCache[last]
		ss.reqCache = ss.reqCache[:last]
	} else {
		req = c.pool.get()
	}
	req.ctx = c
	return req, true
}

// putRequest implements spec.md §4.2's put_request: returns the record
// to the global pool and releases the context reference get_request
// took.
func (c *Context) putRequest(req *Request) {
	c.pool.put(req)
	c.refs.release()
}

// flushFileCache releases the Submit State's cached extra file
// references (spec.md §4.3: "released via a batched put when the
// cache is flushed or the Submit State ends").
func (c *Context) flushFileCache(ss *submitState) {
	if ss.fileCached == nil {
		return
	}
	if ss.toRelease > 0 {
		ss.fileCached.release(ss.toRelease)
	}
	ss.fileCached = nil
	ss.fdCached = 0
	ss.toRelease = 0
}

// acquireFileBatched implements spec.md §4.3: reuse the cached file if
// it matches fd and the bulk-acquired cache still has spare references,
// otherwise flush the old cache and acquire up to submitStateFileBatchCap
// references (capped further by ops remaining in the batch) in one call.
func (c *Context) acquireFileBatched(ss *submitState, fd uint32) (*fileEntry, bool) {
	if ss.fileCached != nil && ss.fdCached == fd && ss.toRelease > 0 {
		ss.toRelease--
		return ss.fileCached, true
	}
	c.flushFileCache(ss)
	entry, ok := c.files.lookup(fd)
	if !ok {
		return nil, false
	}
	n := ss.iosLeft
	if n < 1 {
		n = 1
	}
	if n > submitStateFileBatchCap {
		n = submitStateFileBatchCap
	}
	entry.acquire(n)
	ss.fileCached = entry
	ss.fdCached = fd
	ss.toRelease = n - 1
	return entry, true
}

// acquireFileFor resolves the file a Request's opcode should operate
// on. A Request that already holds a file reference (the worker
// retrying a deferred READV/WRITEV) reuses it without touching the
// table. Otherwise it acquires through the Submit State's batching
// when one is supplied (the inline fast path), or a single reference
// acquire when not (a worker call with no batching context, e.g.
// FSYNC, which the fast path never looks up a file for at all).
func (c *Context) acquireFileFor(req *Request, fd uint32, ss *submitState) (*fileEntry, bool) {
	if req.file != nil {
		return req.file, true
	}
	if ss != nil {
		return c.acquireFileBatched(ss, fd)
	}
	entry, ok := c.files.lookup(fd)
	if !ok {
		return nil, false
	}
	entry.acquire(1)
	return entry, true
}
