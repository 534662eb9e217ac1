//go:build linux

package uringcore

import (
	"context"
	"errors"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// workerPool is the Offload Worker of spec.md §4.7: a bounded pool
// that retries operations which returned would-block on the fast
// path. Admission is gated by a semaphore the fast path only ever
// TryAcquires, so submitBatch never blocks waiting for a worker slot —
// a full pool is resource exhaustion, not a would-block, per §7.
type workerPool struct {
	sem    *semaphore.Weighted
	jobs   chan *Request
	cancel context.CancelFunc
	g      *errgroup.Group
	logger *log.Logger
}

func newWorkerPool(c *Context, n int, logger *log.Logger) *workerPool {
	if n < 1 {
		n = 1
	}
	gctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(gctx)
	wp := &workerPool{
		sem:    semaphore.NewWeighted(int64(n)),
		jobs:   make(chan *Request, n*4),
		cancel: cancel,
		logger: logger,
	}
	for i := 0; i < n; i++ {
		g.Go(func() error {
			wp.run(gctx, c)
			return nil
		})
	}
	wp.g = g
	return wp
}

func (wp *workerPool) run(gctx context.Context, c *Context) {
	for {
		select {
		case <-gctx.Done():
			return
		case req, ok := <-wp.jobs:
			if !ok {
				return
			}
			c.runOffload(req)
		}
	}
}

// enqueue admits req for offload without ever blocking the caller. A
// false return means resource exhaustion (no spare worker admission
// slot, or the pool is already shutting down) — the fast path turns
// that into an immediate -EAGAIN completion rather than queuing.
func (wp *workerPool) enqueue(req *Request) bool {
	if !wp.sem.TryAcquire(1) {
		return false
	}
	select {
	case wp.jobs <- req:
		return true
	default:
		wp.sem.Release(1)
		return false
	}
}

func (wp *workerPool) shutdown() {
	wp.cancel()
	close(wp.jobs)
	_ = wp.g.Wait()
}

// maxBackoff caps the would-block retry delay spec.md §9 flags as
// implementer's discretion ("the source retries by cond_resched()
// without any backoff; this can starve the CPU").
const maxBackoff = 4 * time.Microsecond

// runOffload executes the per-opcode path with blocking semantics
// (spec.md §4.4, §4.7), retrying only the would-block-in-polled-mode
// case with a capped exponential backoff instead of a bare spin. The
// owned SQE copy is freed when the item finishes regardless of outcome.
func (c *Context) runOffload(req *Request) {
	defer c.worker.sem.Release(1)
	defer func() { req.submitCopy = nil }()

	backoff := time.Microsecond
	for {
		res, err, async := c.dispatchOpcode(req, req.submitCopy, false, nil)
		if errors.Is(err, errWouldBlock) {
			if !c.polled {
				// a blocking call returning would-block is not
				// expected outside polled mode; surface it rather
				// than spin forever on a File that never completes.
				c.finishRequest(req, 0, syscall.EAGAIN)
				return
			}
			time.Sleep(backoff)
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		if async {
			return
		}
		c.finishRequest(req, res, err)
		return
	}
}
