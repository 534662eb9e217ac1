//go:build linux

package uringcore

import (
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/behrlich/uringcore/internal/queue"
	"github.com/charmbracelet/log"
)

var handleSeq atomic.Int64

// Context is one Ring Context (spec.md §2): the SQ/CQ rings, request
// pool, file table, poll list, offload worker pool, and the reference
// counter guarding them all against use-after-free during teardown.
type Context struct {
	handle int

	sq       *sqRing
	cq       *cqRing
	sqesBuf  []byte
	sqes     []SQE
	sqEntries uint32
	cqEntries uint32
	sqMask    uint32
	cqMask    uint32

	// sqProducerTail/sqProducerMu back the application-side PrepNOP/
	// PrepReadv/... producer calls (sqe.go). sqConsumerMu serializes
	// concurrent Enter calls against the single-consumer SQ protocol;
	// it is distinct from mu (the uring lock) so that submitBatch can
	// call into linkPoll, which itself takes mu, without deadlocking.
	sqProducerTail uint32
	sqProducerMu   sync.Mutex
	sqConsumerMu   sync.Mutex

	cqMu sync.Mutex

	// mu is the "uring lock" of spec.md §5: guards the Poll List and
	// the per-opcode metadata shared between enter and the offload
	// worker. The enter path holds it across an entire polled harvest;
	// submission only acquires it for the instant it links a Request.
	mu            sync.Mutex
	polled        bool
	pollList      *queue.List[*Request]
	pollMultiFile bool
	pollLastFile  File

	files *fileTable
	pool  *requestPool

	worker *workerPool
	waitQ  *cqWaitQueue

	interruptSeq atomic.Uint64

	refs   *refCounter
	closed atomic.Bool

	notifyMu     sync.Mutex
	notifySubs   map[int]chan<- struct{}
	notifyNextID int

	lockedBytes atomic.Int64

	params Params
	logger *log.Logger
}

// Setup allocates a Ring Context (spec.md §6): depth must be in
// (0, 4096], rounded up to a power of two for sq_entries; cq_entries
// is fixed at 2×sq_entries. Reserved parameter fields and unrecognized
// setup flag bits must be zero.
func Setup(depth uint32, opts ...Option) (*Context, error) {
	if depth == 0 || depth > 4096 {
		return nil, ErrInvalidDepth
	}
	var p Params
	for _, opt := range opts {
		opt(&p)
	}
	if p.Reserved != 0 || p.Flags&^SetupIOPoll != 0 {
		return nil, ErrReservedSet
	}

	sqEntries := roundUpPow2(depth)
	cqEntries := 2 * sqEntries

	sq := newSQRing(sqEntries)
	cq := newCQRing(cqEntries)
	sqesBuf := newSQEs(sqEntries)
	sqes := sqesSlice(sqesBuf, sqEntries)

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "uringcore",
	})

	c := &Context{
		handle:     int(handleSeq.Add(1)),
		sq:         sq,
		cq:         cq,
		sqesBuf:    sqesBuf,
		sqes:       sqes,
		sqEntries:  sqEntries,
		cqEntries:  cqEntries,
		sqMask:     sqEntries - 1,
		cqMask:     cqEntries - 1,
		polled:     p.Flags&SetupIOPoll != 0,
		pollList:   queue.NewList[*Request](),
		files:      newFileTable(),
		pool:       newRequestPool(),
		waitQ:      newCQWaitQueue(),
		refs:       newRefCounter(),
		notifySubs: make(map[int]chan<- struct{}),
		logger:     logger,
	}

	workerCount := p.WorkerCount
	if workerCount <= 0 {
		workerCount = int(sqEntries) - 1
		if cpuCap := 2 * runtime.NumCPU(); cpuCap < workerCount {
			workerCount = cpuCap
		}
		if workerCount < 1 {
			workerCount = 1
		}
	}
	c.worker = newWorkerPool(c, workerCount, logger)

	for _, buf := range [][]byte{sq.buf, cq.buf, sqesBuf} {
		if err := lockBytes(buf); err != nil {
			logger.Debug("mlock ring memory failed, continuing unaccounted", "err", err, "bytes", len(buf))
			continue
		}
		c.lockedBytes.Add(int64(len(buf)))
	}

	p.SQEntries = sqEntries
	p.CQEntries = cqEntries
	p.SQOff = sq.off
	p.CQOff = cq.off
	c.params = p

	return c, nil
}

// Params returns the effective parameters block populated by Setup.
func (c *Context) Params() Params { return c.params }

// Handle returns the opaque handle value external callers can log or
// compare, independent of the *Context pointer itself.
func (c *Context) Handle() int { return c.handle }

// RegisterFile installs f at the application-chosen fd index used in
// SQE.Fd. This stands in for the real fd-table lookup spec.md §1
// places out of scope.
func (c *Context) RegisterFile(fd uint32, f File) { c.files.Register(fd, f) }

// UnregisterFile removes fd's registration.
func (c *Context) UnregisterFile(fd uint32) { c.files.Unregister(fd) }

// MappedRegions is the three-offset exposure spec.md §6 calls for: the
// SQ ring (header + indirection array), the SQE backing array, and the
// CQ ring. There is no real mmap here — Setup already allocated these
// as plain byte slices backing both the producer and consumer sides.
type MappedRegions struct {
	SQRing []byte
	SQEs   []byte
	CQRing []byte
}

// Mmap returns the three backing regions described above.
func (c *Context) Mmap() MappedRegions {
	return MappedRegions{SQRing: c.sq.buf, SQEs: c.sqesBuf, CQRing: c.cq.buf}
}

// Readiness reports the poll-style state spec.md §6 describes:
// writable when the SQ has space, readable when the CQ is non-empty.
type Readiness struct {
	Writable bool
	Readable bool
}

func (c *Context) Readiness() Readiness {
	sqTail := atomic.LoadUint32(c.sq.off.tailPtr(c.sq.buf))
	sqHead := atomic.LoadUint32(c.sq.off.headPtr(c.sq.buf))
	return Readiness{
		Writable: sqTail-sqHead < c.sqEntries,
		Readable: c.cqAvailable() > 0,
	}
}

// NotifyCQReadable subscribes ch to a non-blocking notification every
// time the CQ becomes readable (spec.md §6's async-notify operation,
// modeled on the EPOLLIN/EPOLLOUT bridge a real mmap-aware notifier
// would deliver). The returned func unsubscribes.
func (c *Context) NotifyCQReadable(ch chan<- struct{}) func() {
	c.notifyMu.Lock()
	id := c.notifyNextID
	c.notifyNextID++
	c.notifySubs[id] = ch
	c.notifyMu.Unlock()
	return func() {
		c.notifyMu.Lock()
		delete(c.notifySubs, id)
		c.notifyMu.Unlock()
	}
}

func (c *Context) notifyReadable() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	for _, ch := range c.notifySubs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// LockedBytes returns how much ring backing memory is currently
// mlocked against the process's RLIMIT_MEMLOCK (spec.md §5's memory
// accounting). It can read less than the full ring size if mlock
// failed at setup (no CAP_IPC_LOCK, limit exceeded) — that failure is
// non-fatal and logged, not surfaced here.
func (c *Context) LockedBytes() int { return int(c.lockedBytes.Load()) }

// Close implements the teardown sequence of spec.md §4.8: mark the
// reference counter for kill, drain the Poll List, wait for
// outstanding Requests, tear down the worker pool, release memory
// accounting, and let shared ring memory be reclaimed by the GC last.
func (c *Context) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	done := c.refs.kill()

	if c.polled {
		c.mu.Lock()
		for c.pollList.Len() > 0 {
			if _, err := c.pollHarvest(1); err != nil {
				c.logger.Debug("poll list drain", "err", err)
			}
			runtime.Gosched()
		}
		c.mu.Unlock()
	}

	<-done

	c.worker.shutdown()

	if c.lockedBytes.Load() > 0 {
		_ = unlockBytes(c.sq.buf)
		_ = unlockBytes(c.cq.buf)
		_ = unlockBytes(c.sqesBuf)
		c.lockedBytes.Store(0)
	}

	c.wakeCQWaiters()
	return nil
}
