package kheap

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
	"github.com/hxyulin/hadron-sub000/kernel/sync"
)

var kernelHeap = sync.Global[Heap]{Name: "kheap"}

// Init sets up the kernel heap over the size bytes already mapped at start.
// The heap may grow up to the end of mm.KernelHeap.
func Init(start mm.VirtAddr, size uintptr) {
	maxSize := uintptr(mm.KernelHeap.Last()) - uintptr(start) + 1
	kernelHeap.Init(NewHeap(start, size, maxSize))
	kfmt.Printf("[kheap] heap at 0x%x: %d KiB mapped, %d MiB max\n", uintptr(start), size>>10, maxSize>>20)
}

// Size returns the number of mapped kernel heap bytes.
func Size() uintptr {
	h := kernelHeap.Handle()
	defer h.Unlock()
	return h.Lock().Size()
}

// Alloc reserves size bytes aligned to align from the kernel heap.
func Alloc(size, align uintptr) uintptr {
	h := kernelHeap.Handle()
	defer h.Unlock()
	return h.Lock().Alloc(size, align)
}

// Free returns memory obtained from Alloc.
func Free(addr uintptr) {
	h := kernelHeap.Handle()
	defer h.Unlock()
	h.Lock().Free(addr)
}

// CreateZone creates a fixed-size object zone in the kernel heap.
func CreateZone(name string, initialSize, objSize uintptr) (ZoneID, *kernel.Error) {
	h := kernelHeap.Handle()
	defer h.Unlock()
	return h.Lock().CreateZone(name, initialSize, objSize)
}

// FindZone looks up a kernel heap zone by name.
func FindZone(name string) (ZoneID, bool) {
	h := kernelHeap.Handle()
	defer h.Unlock()
	return h.Lock().ZoneID(name)
}

// ZoneInfo returns the state of a kernel heap zone.
func ZoneInfo(id ZoneID) ZoneStats {
	h := kernelHeap.Handle()
	defer h.Unlock()
	return h.Lock().ZoneInfo(id)
}

// ZoneAlloc reserves one object from a kernel heap zone.
func ZoneAlloc(id ZoneID) (uintptr, *kernel.Error) {
	h := kernelHeap.Handle()
	defer h.Unlock()
	return h.Lock().ZoneAlloc(id)
}

// ZoneFree returns an object to a kernel heap zone.
func ZoneFree(id ZoneID, addr uintptr) {
	h := kernelHeap.Handle()
	defer h.Unlock()
	h.Lock().ZoneFree(id, addr)
}
