//go:build linux

package uringcore

import (
	"sync"
	"syscall"
)

// fakeFile is an in-memory File used to drive the submit/complete
// pipeline in tests without touching any real descriptor. Each
// behavior is configured per test: a synchronous result, a queued
// callback, a permanent would-block, or a fixed error.
type fakeFile struct {
	mu sync.Mutex

	// mode selects the outcome Readv/Writev report.
	mode fakeMode

	n               int
	err             error
	caps            FileCaps
	datas           [][]byte // bytes most recently written, for WRITEV assertions
	synced          int
	lastOff         int64
	wouldBlockTimes int // fakeModeFlaky: remaining would-block responses

	// pendingComplete, when set, is invoked by the test itself (not the fake)
	// to fire the CompletionFunc captured from the call.
	pendingComplete CompletionFunc
}

type fakeMode int

const (
	fakeModeSync fakeMode = iota
	fakeModeQueued
	fakeModeWouldBlock
	fakeModeError
	// fakeModeFlaky returns would-block for wouldBlockTimes calls, then
	// falls through to the synchronous-success result.
	fakeModeFlaky
)

func (f *fakeFile) Readv(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOff = off
	switch f.mode {
	case fakeModeQueued:
		f.pendingComplete = complete
		return 0, ErrQueued
	case fakeModeWouldBlock:
		return 0, errWouldBlock
	case fakeModeError:
		return 0, f.err
	case fakeModeFlaky:
		if f.wouldBlockTimes > 0 {
			f.wouldBlockTimes--
			return 0, errWouldBlock
		}
		return f.n, nil
	default:
		return f.n, nil
	}
}

func (f *fakeFile) Writev(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOff = off
	f.datas = f.datas[:0]
	for _, v := range iov {
		f.datas = append(f.datas, append([]byte(nil), unsafeIovecBytes(v)...))
	}
	switch f.mode {
	case fakeModeQueued:
		f.pendingComplete = complete
		return 0, ErrQueued
	case fakeModeWouldBlock:
		return 0, errWouldBlock
	case fakeModeError:
		return 0, f.err
	case fakeModeFlaky:
		if f.wouldBlockTimes > 0 {
			f.wouldBlockTimes--
			return 0, errWouldBlock
		}
		return f.n, nil
	default:
		return f.n, nil
	}
}

func (f *fakeFile) Fsync(off, length int64, datasync bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced++
	return f.err
}

func (f *fakeFile) Caps() FileCaps { return f.caps }

// fireComplete invokes whatever CompletionFunc the most recent queued
// Readv/Writev captured, simulating a device callback arriving later
// from an arbitrary goroutine.
func (f *fakeFile) fireComplete(n int32, err error) {
	f.mu.Lock()
	fn := f.pendingComplete
	f.pendingComplete = nil
	f.mu.Unlock()
	if fn != nil {
		fn(n, err)
	}
}

// fakePollFile is a polled-mode File/Poller/Capper: it always hands the
// op off (ErrQueued) so the harvester must drive completion through
// Poll, which only reports done once the test arms it — modeling a
// device that needs several harvester sweeps before finishing.
type fakePollFile struct {
	mu        sync.Mutex
	done      bool
	pollCount int
	pollErr   error
}

func (f *fakePollFile) Readv(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (int, error) {
	return 0, ErrQueued
}

func (f *fakePollFile) Writev(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (int, error) {
	return 0, ErrQueued
}

func (f *fakePollFile) Caps() FileCaps { return filePollCaps }

func (f *fakePollFile) Poll(spin bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCount++
	if f.pollErr != nil {
		return false, f.pollErr
	}
	return f.done, nil
}

// arm marks the op done, observable on the harvester's next Poll call.
func (f *fakePollFile) arm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = true
}

func (f *fakePollFile) pollCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pollCount
}
