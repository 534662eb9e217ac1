//go:build linux

package uringcore

import (
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func iovecOf(buf []byte) []syscall.Iovec {
	return []syscall.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
}

func TestReadvSynchronousSuccess(t *testing.T) {
	c, err := Setup(8)
	require.NoError(t, err)
	defer c.Close()

	f := &fakeFile{n: 42}
	c.RegisterFile(7, f)

	buf := make([]byte, 64)
	require.True(t, c.PrepReadv(7, iovecOf(buf), 0, 99))

	submitted, err := c.Enter(1, 1, EnterGetEvents)
	require.NoError(t, err)
	require.Equal(t, 1, submitted)

	ud, res, _, ok := c.PeekCQE()
	require.True(t, ok)
	require.Equal(t, uint64(99), ud)
	require.Equal(t, int32(42), res)
}

func TestReadvOnUnregisteredFileReturnsEBADF(t *testing.T) {
	c, err := Setup(8)
	require.NoError(t, err)
	defer c.Close()

	buf := make([]byte, 8)
	require.True(t, c.PrepReadv(123, iovecOf(buf), 0, 1))

	_, err = c.Enter(1, 1, EnterGetEvents)
	require.NoError(t, err)

	_, res, _, ok := c.PeekCQE()
	require.True(t, ok)
	require.Equal(t, negErrno(syscall.EBADF), res)
}

func TestReadvErrorSurfacesAsNegativeErrno(t *testing.T) {
	c, err := Setup(8)
	require.NoError(t, err)
	defer c.Close()

	f := &fakeFile{mode: fakeModeError, err: syscall.EIO}
	c.RegisterFile(1, f)

	buf := make([]byte, 8)
	require.True(t, c.PrepReadv(1, iovecOf(buf), 0, 7))
	_, err = c.Enter(1, 1, EnterGetEvents)
	require.NoError(t, err)

	_, res, _, ok := c.PeekCQE()
	require.True(t, ok)
	require.Equal(t, negErrno(syscall.EIO), res)
}

// a would-block on the fast path is deferred to the offload worker,
// which runs the op again with blocking semantics: since the file's
// transient condition has cleared by the time the worker picks it up,
// this retry succeeds instead of surfacing -EAGAIN to the application.
func TestWritevWouldBlockDefersToWorker(t *testing.T) {
	c, err := Setup(8)
	require.NoError(t, err)
	defer c.Close()

	f := &fakeFile{mode: fakeModeFlaky, wouldBlockTimes: 1, n: 5}
	c.RegisterFile(1, f)

	buf := []byte("hello")
	require.True(t, c.PrepWritev(1, iovecOf(buf), 0, 55))

	submitted, err := c.Enter(1, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, submitted)

	require.Eventually(t, func() bool {
		_, _, _, ok := c.PeekCQE()
		return ok
	}, time.Second, time.Millisecond, "worker should eventually complete the flaky write")

	ud, res, _, ok := c.PeekCQE()
	require.True(t, ok)
	require.Equal(t, uint64(55), ud)
	require.Equal(t, int32(5), res)
}

// a File that hands an op off entirely (ErrQueued) completes later via
// its CompletionFunc, invoked here from a goroutine standing in for an
// arbitrary device-callback context.
func TestReadvQueuedCompletesViaCallback(t *testing.T) {
	c, err := Setup(8)
	require.NoError(t, err)
	defer c.Close()

	f := &fakeFile{mode: fakeModeQueued}
	c.RegisterFile(1, f)

	buf := make([]byte, 8)
	require.True(t, c.PrepReadv(1, iovecOf(buf), 0, 1234))

	submitted, err := c.Enter(1, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, submitted)

	_, _, _, ok := c.PeekCQE()
	require.False(t, ok, "queued op must not publish a completion until its callback fires")

	go f.fireComplete(17, nil)

	require.Eventually(t, func() bool {
		_, _, _, ok := c.PeekCQE()
		return ok
	}, time.Second, time.Millisecond)

	ud, res, _, _ := c.PeekCQE()
	require.Equal(t, uint64(1234), ud)
	require.Equal(t, int32(17), res)
}

// FSYNC's fast path always reports would-block (force_nonblock never
// completes inline); the worker performs the real sync.
func TestFsyncAlwaysDefersThenSyncs(t *testing.T) {
	c, err := Setup(8)
	require.NoError(t, err)
	defer c.Close()

	f := &fakeFile{}
	c.RegisterFile(1, f)

	require.True(t, c.PrepFsync(1, 0, 0, true, 9))

	submitted, err := c.Enter(1, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, submitted)

	require.Eventually(t, func() bool {
		_, _, _, ok := c.PeekCQE()
		return ok
	}, time.Second, time.Millisecond)

	f.mu.Lock()
	synced := f.synced
	f.mu.Unlock()
	require.Equal(t, 1, synced)

	ud, res, _, _ := c.PeekCQE()
	require.Equal(t, uint64(9), ud)
	require.Equal(t, int32(0), res)
}

func TestFsyncOnFileWithoutSyncerIsNotSupported(t *testing.T) {
	c, err := Setup(8)
	require.NoError(t, err)
	defer c.Close()

	c.RegisterFile(1, &readOnlyFile{})
	require.True(t, c.PrepFsync(1, 0, 0, false, 3))

	_, err = c.Enter(1, 0, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, _, ok := c.PeekCQE()
		return ok
	}, time.Second, time.Millisecond)

	_, res, _, _ := c.PeekCQE()
	require.Equal(t, negErrno(syscall.EOPNOTSUPP), res)
}

// readOnlyFile implements File but not Syncer, used only to exercise
// FSYNC's capability check.
type readOnlyFile struct{}

func (readOnlyFile) Readv(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (int, error) {
	return 0, nil
}
func (readOnlyFile) Writev(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (int, error) {
	return 0, nil
}

// gatedFile blocks its first Writev until release is closed, so a test
// can hold the sole offload worker slot open deterministically.
type gatedFile struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (g *gatedFile) Readv(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (int, error) {
	return 0, nil
}

func (g *gatedFile) Writev(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (int, error) {
	if nonblock {
		return 0, errWouldBlock
	}
	g.once.Do(func() { close(g.started) })
	<-g.release
	return 1, nil
}

// a second op submitted while the single offload worker is pinned on a
// blocking call must be turned away inline as resource-exhausted
// (-EAGAIN), never queued indefinitely waiting for a free slot.
func TestSecondDeferralFailsWhenWorkerPoolSaturated(t *testing.T) {
	c, err := Setup(8, WithWorkerCount(1))
	require.NoError(t, err)
	defer c.Close()

	g := &gatedFile{release: make(chan struct{}), started: make(chan struct{})}
	c.RegisterFile(1, g)

	buf := make([]byte, 8)
	require.True(t, c.PrepWritev(1, iovecOf(buf), 0, 1))

	submitted, err := c.Enter(1, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, submitted)

	select {
	case <-g.started:
	case <-time.After(time.Second):
		t.Fatal("gated write never started on the offload worker")
	}

	require.True(t, c.PrepWritev(1, iovecOf(buf), 0, 2))
	submitted, err = c.Enter(1, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, submitted)

	ud, res, _, ok := c.PeekCQE()
	require.True(t, ok)
	require.Equal(t, uint64(2), ud)
	require.Equal(t, negErrno(syscall.EAGAIN), res)

	close(g.release)
	require.Eventually(t, func() bool {
		return c.cqAvailable() >= 1
	}, time.Second, time.Millisecond)
}
