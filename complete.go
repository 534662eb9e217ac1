//go:build linux

package uringcore

// completeAsync is the callback-driven completion path of spec.md
// §4.5.2: invoked from outside the enter path (device callback
// context) for a non-polled Request that returned ErrQueued. It
// publishes one CQE under the CQ spinlock, releases the file, frees
// the Request, and wakes any CQ waiter — all of which publishCQE and
// putRequest already do, making this safe to call from any goroutine
// that does not hold the uring lock.
func (c *Context) completeAsync(req *Request, n int32, err error) {
	res := n
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

// polledComplete records a result on a polled Request from whatever
// context observed completion — either the device's own callback or
// the harvester's Poll() call finding the op done. It never touches
// the Poll List itself; linking and unlinking stay under the uring
// lock in poll.go.
func (c *Context) polledComplete(req *Request, res int32) {
	req.result.Store(res)
	req.completed.Store(true)
}

// linkPoll inserts a freshly submitted polled Request into the Poll
// List (spec.md §4.4.2): already-complete requests join at the front,
// everything else at the back. poll_multi_file is set once a second
// distinct file appears among poll members.
func (c *Context) linkPoll(req *Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollList.Len() == 0 {
		c.pollMultiFile = false
	} else if c.pollLastFile != nil && req.file != nil && c.pollLastFile != req.file.file {
		c.pollMultiFile = true
	}
	if req.file != nil {
		c.pollLastFile = req.file.file
	}
	if req.completed.Load() {
		req.pollElem = c.pollList.PushFront(req)
	} else {
		req.pollElem = c.pollList.PushBack(req)
	}
}
