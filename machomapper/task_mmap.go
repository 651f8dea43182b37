//go:build darwin || linux

package machomapper

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ius/corebridge/abi"
)

// MmapTask is the in-process Task implementation: it reserves an
// anonymous mapping for the whole tree's combined vm_size up front via
// Reserve, then Allocate hands out successive sub-ranges, Write copies
// bytes in directly (same address space), and Protect calls mprotect.
//
// Built on golang.org/x/sys/unix's typed wrappers for mmap/mprotect,
// the natural ecosystem choice for manual process-memory mapping.
type MmapTask struct {
	base abi.NativePointer
	size uint64
	next uint64
}

// Reserve carves out an anonymous, initially-inaccessible mapping of
// size bytes; Allocate then hands out sub-ranges from it so every
// mapper in a tree lands in one contiguous region.
func Reserve(size uint64) (*MmapTask, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, abi.Newf(abi.AllocationFailed, "reserving %d bytes for image mapper tree: %v", size, err)
	}
	return &MmapTask{base: abi.NativePointer(uintptr(unsafe.Pointer(&b[0]))), size: size}, nil
}

func (t *MmapTask) Allocate(vmSize uint64) (abi.NativePointer, error) {
	if t.next+vmSize > t.size {
		return 0, abi.Newf(abi.AllocationFailed, "image mapper tree exceeded its %d-byte reservation", t.size)
	}
	addr := t.base.Add(abi.NativePointer(t.next))
	t.next += vmSize
	return addr, nil
}

func (t *MmapTask) Write(addr abi.NativePointer, data []byte) error {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(data))
	copy(dst, data)
	return nil
}

func (t *MmapTask) Protect(addr abi.NativePointer, size uint64, prot uint32) error {
	page := uintptr(addr) &^ (pageSize - 1)
	length := int(size) + int(uintptr(addr)-page)
	mem := unsafe.Slice((*byte)(unsafe.Pointer(page)), length)
	if err := unix.Mprotect(mem, int(prot)); err != nil {
		return abi.Newf(abi.Unsupported, "mprotect at %s: %v", addr, err)
	}
	return nil
}
