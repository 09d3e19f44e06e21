package pmm

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

var (
	errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}
	errMisalignedRegion     = &kernel.Error{Module: "boot_mem_alloc", Message: "returned region is not page aligned"}
)

// BootMemAllocator implements a rudimentary physical memory allocator which is
// used to bootstrap the kernel.
//
// The allocator carves frames from the front of the first suitable Usable
// entry of a BootMemoryMap, shrinking the entry in place. Entries that run
// out of frames are re-tagged as Allocated. Freed ranges are appended as new
// Usable entries without merging; the allocator only lives until the runtime
// memory map has been built.
type BootMemAllocator struct {
	mmap *BootMemoryMap

	// allocCount tracks the total number of allocated frames.
	allocCount uint64
}

// NewBootMemAllocator returns an allocator that carves frames out of bm.
func NewBootMemAllocator(bm *BootMemoryMap) BootMemAllocator {
	return BootMemAllocator{mmap: bm}
}

// AllocFrame reserves the next available frame.
func (alloc *BootMemAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	return alloc.carve(1, 0)
}

// AllocLowFrame reserves the next available frame that ends at or below
// mm.LowMemoryCeiling.
func (alloc *BootMemAllocator) AllocLowFrame() (mm.Frame, *kernel.Error) {
	return alloc.carve(1, mm.LowMemoryCeiling)
}

// AllocContiguous reserves count physically contiguous frames below
// mm.LowMemoryCeiling and returns the first one. The frames always come from
// a single entry.
func (alloc *BootMemAllocator) AllocContiguous(count uint64) (mm.Frame, *kernel.Error) {
	return alloc.carve(count, mm.LowMemoryCeiling)
}

// carve takes count frames from the front of the first Usable entry that
// can provide them without crossing ceiling. A zero ceiling means no limit.
func (alloc *BootMemAllocator) carve(count uint64, ceiling uintptr) (mm.Frame, *kernel.Error) {
	if count == 0 {
		return mm.InvalidFrame, errBootAllocOutOfMemory
	}

	need := count << mm.PageShift
	entries := alloc.mmap.Entries()
	for i := range entries {
		e := &entries[i]
		if e.Type != Usable || e.Length < need {
			continue
		}

		if ceiling != 0 && uint64(e.Base)+need > uint64(ceiling) {
			continue
		}

		frame := e.Base.Frame()
		e.Base += mm.PhysAddr(need)
		e.Length -= need
		if e.Length == 0 {
			e.Type = Allocated
		}

		alloc.allocCount += count
		return frame, nil
	}

	return mm.InvalidFrame, errBootAllocOutOfMemory
}

// DeallocRegion returns the page-aligned range [base, base+length) to the
// allocator by appending it to the memory map as a Usable entry.
func (alloc *BootMemAllocator) DeallocRegion(base mm.PhysAddr, length uint64) {
	if !base.IsAligned(mm.PageSize) || length&uint64(mm.PageSize-1) != 0 {
		panic(errMisalignedRegion)
	}

	if length == 0 {
		return
	}

	alloc.mmap.Push(MemoryMapEntry{Base: base, Length: length, Type: Usable})
}

// AllocCount returns the number of frames handed out so far.
func (alloc *BootMemAllocator) AllocCount() uint64 {
	return alloc.allocCount
}
