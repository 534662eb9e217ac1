//go:build linux

package uringcore

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ringmem lays out the SQ ring, SQE array, and CQ ring as plain byte
// buffers the way the teacher's mapRings() laid them out over a real
// mmap — except here the buffer backs an in-process shared region
// rather than a kernel-provided fd, since this module implements the
// side of the interface that would otherwise be the kernel (spec.md §1
// places the mmap subsystem itself out of scope; only its bit-exact
// layout, spec.md §6, is normative).
//
// Layout (matches spec.md §3's Ring Header + SQ indirection array):
//
//	SQ ring buffer:  [head|tail|ring_mask|ring_entries|flags|dropped][array of ring_entries uint32]
//	CQ ring buffer:  [head|tail|ring_mask|ring_entries|overflow|_pad][array of ring_entries CQE]
//	SQE buffer:      separate, ring_entries * 64 bytes
const (
	sqHeaderSize = 24 // 6 * uint32
	cqHeaderSize = 24 // 5 * uint32 + 4 pad, keeps CQE array 8-byte aligned
)

type sqRing struct {
	buf   []byte
	off   SQOffsets
	array []uint32
}

type cqRing struct {
	buf  []byte
	off  CQOffsets
	cqes []CQE
}

func newSQRing(entries uint32) *sqRing {
	size := sqHeaderSize + int(entries)*4
	buf := make([]byte, size)
	off := SQOffsets{
		Head:        0,
		Tail:        4,
		RingMask:    8,
		RingEntries: 12,
		Flags:       16,
		Dropped:     20,
		Array:       sqHeaderSize,
	}
	*ptrU32(buf, off.RingMask) = entries - 1
	*ptrU32(buf, off.RingEntries) = entries
	arr := unsafe.Slice((*uint32)(unsafe.Pointer(&buf[off.Array])), entries)
	return &sqRing{buf: buf, off: off, array: arr}
}

func newCQRing(entries uint32) *cqRing {
	size := cqHeaderSize + int(entries)*int(unsafe.Sizeof(CQE{}))
	buf := make([]byte, size)
	off := CQOffsets{
		Head:        0,
		Tail:        4,
		RingMask:    8,
		RingEntries: 12,
		Overflow:    16,
		CQEs:        cqHeaderSize,
	}
	*ptrU32(buf, off.RingMask) = entries - 1
	*ptrU32(buf, off.RingEntries) = entries
	cqes := unsafe.Slice((*CQE)(unsafe.Pointer(&buf[off.CQEs])), entries)
	return &cqRing{buf: buf, off: off, cqes: cqes}
}

func newSQEs(entries uint32) []byte {
	return make([]byte, int(entries)*int(unsafe.Sizeof(SQE{})))
}

func sqesSlice(buf []byte, entries uint32) []SQE {
	return unsafe.Slice((*SQE)(unsafe.Pointer(&buf[0])), entries)
}

func ptrU32(buf []byte, offset uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&buf[offset]))
}

// lockBytes best-effort mlocks the ring backing memory, modeling
// spec.md §5's "memory backing the rings is locked (memory-accounted)
// against the calling user's lock-memory limit at setup". Failure
// (no CAP_IPC_LOCK, RLIMIT_MEMLOCK exceeded, sandboxed environment) is
// non-fatal: the rings still function, they're just not accounted
// against the mlock limit. The caller logs on failure.
func lockBytes(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

func unlockBytes(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munlock(b)
}
