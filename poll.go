//go:build linux

package uringcore

import "github.com/behrlich/uringcore/internal/queue"

// pollHarvest implements spec.md §4.5.1. The caller must already hold
// c.mu — the enter path holds it across the whole harvest, matching
// the concurrency model's "enter path holds [the uring lock] across a
// polled harvest" versus the worker and submit paths, which only
// acquire it for the instant they touch the Poll List (linkPoll).
func (c *Context) pollHarvest(min int) (int, error) {
	harvested := 0
	var lastErr error
	for {
		doneCount, progressed, err := c.pollWalkAndFlush(harvested, min)
		harvested += doneCount
		if err != nil {
			lastErr = err
		}
		if harvested >= min {
			break
		}
		if !progressed && doneCount == 0 {
			break
		}
	}
	if harvested >= min {
		return harvested, nil
	}
	return harvested, lastErr
}

// pollWalkAndFlush runs one sweep of the Poll List: it stops at the
// first Request found complete (already flagged, or completed by this
// sweep's Poll call) or the first Poll error, then flushes whatever it
// collected in a single CQ tail commit.
func (c *Context) pollWalkAndFlush(harvestedSoFar, min int) (doneCount int, progressed bool, err error) {
	var done []*queue.Element[*Request]

	for e := c.pollList.Front(); e != nil; e = e.Next() {
		req := e.Value
		if req.completed.Load() {
			done = append(done, e)
			progressed = true
			break
		}
		poller, ok := req.file.file.(Poller)
		if !ok {
			err = ErrNotSupported
			break
		}
		spin := !c.pollMultiFile && harvestedSoFar < min
		completedNow, pollErr := poller.Poll(spin)
		if pollErr != nil {
			err = pollErr
			break
		}
		if completedNow {
			req.completed.Store(true)
		}
		if req.completed.Load() {
			done = append(done, e)
			progressed = true
			break
		}
	}

	if len(done) == 0 {
		return 0, progressed, err
	}

	entries := make([]cqeEntry, 0, len(done))
	for _, e := range done {
		req := e.Value
		entries = append(entries, cqeEntry{userData: req.userData, res: req.result.Load(), flags: cqeFlagNone})
	}
	c.publishCQEBatch(entries)

	for _, e := range done {
		req := e.Value
		c.pollList.Remove(e)
		if req.file != nil {
			c.releaseFile(req.file, 1)
			req.file = nil
		}
		c.putRequest(req)
	}

	return len(done), true, err
}
