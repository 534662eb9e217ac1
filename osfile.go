//go:build linux

package uringcore

import (
	"errors"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// OSFile adapts a real, already-open OS file descriptor to the File
// contract: Readv/Writev honor nonblock by going through Preadv2/
// Pwritev2 with RWF_NOWAIT on the inline fast path (spec.md §5's
// "submit fast path never sleeps" invariant), and through Preadv2/
// Pwritev2 without RWF_NOWAIT (an ordinary blocking call) for the
// offload worker's retry (nonblock=false). Both paths accept offset -1,
// meaning "use and advance the current file position", which
// non-seekable descriptors such as pipes need. It never returns ErrQueued itself, so it is only
// useful against a non-polled Context where every op completes inline
// or in the offload worker.
type OSFile struct {
	fd int
}

// NewOSFile wraps fd, which the caller must keep open for the
// lifetime of any in-flight Request referencing it.
func NewOSFile(fd int) *OSFile { return &OSFile{fd: fd} }

func (f *OSFile) Readv(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (int, error) {
	if nonblock {
		n, err := unix.Preadv2(f.fd, iovecsToBytes(iov), off, unix.RWF_NOWAIT)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return 0, errWouldBlock
			}
			return 0, err
		}
		return n, nil
	}
	n, err := unix.Preadv2(f.fd, iovecsToBytes(iov), off, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (f *OSFile) Writev(iov []syscall.Iovec, off int64, nonblock bool, complete CompletionFunc) (int, error) {
	if nonblock {
		n, err := unix.Pwritev2(f.fd, iovecsToBytes(iov), off, unix.RWF_NOWAIT)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				return 0, errWouldBlock
			}
			return 0, err
		}
		return n, nil
	}
	n, err := unix.Pwritev2(f.fd, iovecsToBytes(iov), off, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, errWouldBlock
		}
		return 0, err
	}
	return n, nil
}

func (f *OSFile) Fsync(off, length int64, datasync bool) error {
	if datasync {
		return unix.Fdatasync(f.fd)
	}
	return unix.Fsync(f.fd)
}

// iovecsToBytes reconstructs the [][]byte form unix.Preadv2/Pwritev2
// expect from the raw syscall.Iovec array the ring protocol carries.
func iovecsToBytes(iov []syscall.Iovec) [][]byte {
	out := make([][]byte, len(iov))
	for i, v := range iov {
		if v.Len == 0 {
			continue
		}
		out[i] = unsafeIovecBytes(v)
	}
	return out
}

func unsafeIovecBytes(v syscall.Iovec) []byte {
	return unsafe.Slice(v.Base, v.Len)
}
