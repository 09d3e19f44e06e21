package pmm

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
	"github.com/hxyulin/hadron-sub000/kernel/sync"
)

var (
	errOutOfMemory       = &kernel.Error{Module: "pmm", Message: "out of physical memory"}
	errFrameNotOwned     = &kernel.Error{Module: "pmm", Message: "freed frame does not belong to any region"}
	errFrameNotAllocated = &kernel.Error{Module: "pmm", Message: "freed frame is not allocated"}

	// frameAllocator is the permanent, lock-protected frame allocator
	// installed by Init.
	frameAllocator = sync.Global[BitmapAllocator]{Name: "pmm"}
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations across the regions of a MemoryMap using one bitmap per region.
type BitmapAllocator struct {
	mmap MemoryMap
}

// NewBitmapAllocator returns an allocator serving frames from m.
func NewBitmapAllocator(m MemoryMap) BitmapAllocator {
	return BitmapAllocator{mmap: m}
}

// AllocFrame reserves the lowest free frame of the first region that has
// one.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	for i := range alloc.mmap.entries {
		if frame, ok := alloc.mmap.entries[i].Allocate(); ok {
			return frame, nil
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame releases a frame previously obtained from AllocFrame. Releasing a
// frame that no region owns or that is not allocated panics.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) {
	for i := range alloc.mmap.entries {
		if r := &alloc.mmap.entries[i]; r.Contains(frame) {
			r.Deallocate(frame)
			return
		}
	}

	panic(errFrameNotOwned)
}

// FreeSpecialRegion moves every special region tagged as regionType into
// the allocation pool and returns the number of frames that became
// available.
func (alloc *BitmapAllocator) FreeSpecialRegion(regionType RegionType) uint64 {
	var (
		freed uint64
		kept  = alloc.mmap.special[:0]
	)

	for _, s := range alloc.mmap.special {
		if s.Type != regionType {
			kept = append(kept, s)
			continue
		}

		alloc.mmap.pushRegion(s.Region)
		freed += s.Region.pages
	}

	alloc.mmap.special = kept
	return freed
}

// TotalPages returns the number of frames in the allocation pool.
func (alloc *BitmapAllocator) TotalPages() uint64 {
	var total uint64
	for i := range alloc.mmap.entries {
		total += alloc.mmap.entries[i].pages
	}
	return total
}

// FreePages returns the number of frames that can still be allocated.
func (alloc *BitmapAllocator) FreePages() uint64 {
	var free uint64
	for i := range alloc.mmap.entries {
		free += alloc.mmap.entries[i].freeCount
	}
	return free
}

// MemoryMap returns the memory map managed by the allocator.
func (alloc *BitmapAllocator) MemoryMap() *MemoryMap {
	return &alloc.mmap
}

// Init installs a BitmapAllocator over m as the system frame allocator and
// registers it with mm.SetFrameAllocator.
func Init(m MemoryMap) {
	h := frameAllocator.Init(NewBitmapAllocator(m))

	alloc := h.Lock()
	kfmt.Printf("[pmm] frame allocator ready: %d/%d pages free\n", alloc.FreePages(), alloc.TotalPages())
	h.Unlock()

	mm.SetFrameAllocator(allocFrame, freeFrame)
}

// FreeSpecialRegion releases all special regions of the given type into the
// system frame allocator.
func FreeSpecialRegion(regionType RegionType) uint64 {
	h := frameAllocator.Handle()
	defer h.Unlock()
	return h.Lock().FreeSpecialRegion(regionType)
}

// Stats returns the total and free page counts of the system frame
// allocator.
func Stats() (total, free uint64) {
	h := frameAllocator.Handle()
	alloc := h.Lock()
	total, free = alloc.TotalPages(), alloc.FreePages()
	h.Unlock()
	return total, free
}

// PrintMemoryMap dumps the regions managed by the system frame allocator.
func PrintMemoryMap() {
	h := frameAllocator.Handle()
	defer h.Unlock()
	h.Lock().mmap.Print()
}

// allocFrame and freeFrame are registered with mm.SetFrameAllocator instead
// of method values, which would make the allocator escape to the heap.
func allocFrame() (mm.Frame, *kernel.Error) {
	h := frameAllocator.Handle()
	frame, err := h.Lock().AllocFrame()
	h.Unlock()
	return frame, err
}

func freeFrame(frame mm.Frame) {
	h := frameAllocator.Handle()
	defer h.Unlock()
	h.Lock().FreeFrame(frame)
}
