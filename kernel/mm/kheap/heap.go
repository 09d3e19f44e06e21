// Package kheap implements the kernel heap: a growable first-fit allocator
// over the mm.KernelHeap window and fixed-size object zones carved from it.
package kheap

import (
	"unsafe"

	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
	"github.com/hxyulin/hadron-sub000/kernel/mm/vmm"
)

const (
	// Granularity is the size and alignment unit of every heap block.
	Granularity = 16

	// headerSize is the space taken by the header in front of each block.
	headerSize = Granularity

	// allocMagic tags the header of allocated blocks.
	allocMagic = uintptr(0x6b68656170a110c8)
)

var (
	errHeapExhausted = &kernel.Error{Module: "kheap", Message: "heap window exhausted"}
	errBadFree       = &kernel.Error{Module: "kheap", Message: "freed address was not returned by Alloc"}
	errBadAlign      = &kernel.Error{Module: "kheap", Message: "alignment must be a power of two"}

	// allocFrameFn and mapPageFn are used by tests to override the frame
	// allocator and page table used for growing the heap.
	allocFrameFn = mm.AllocFrame
	mapPageFn    = vmm.MapPage
)

// blockHeader precedes every block. For free blocks next holds the address of
// the following free block (0 terminates the list); for allocated blocks it
// holds allocMagic.
type blockHeader struct {
	size uintptr
	next uintptr
}

func header(addr uintptr) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(addr))
}

// Heap is an address-ordered first-fit allocator over a contiguous virtual
// range. Only the first size bytes of the range are mapped; the rest is
// mapped on demand by grow, up to maxSize.
//
// The frame allocator and page table used by grow must never allocate from
// the heap itself.
type Heap struct {
	start   uintptr
	size    uintptr
	maxSize uintptr

	freeList uintptr
	used     uintptr

	zones     [MaxZones]zone
	zoneCount int
}

// NewHeap returns a heap over the mapped range [start, start+size) that may
// grow up to maxSize bytes. All values must be page aligned.
func NewHeap(start mm.VirtAddr, size, maxSize uintptr) Heap {
	h := Heap{start: uintptr(start), size: size, maxSize: maxSize}
	if size != 0 {
		h.release(h.start, size)
	}
	return h
}

// Size returns the number of mapped heap bytes.
func (h *Heap) Size() uintptr { return h.size }

// Used returns the number of bytes held by allocated blocks, headers
// included.
func (h *Heap) Used() uintptr { return h.used }

// Alloc reserves size bytes aligned to align (a power of two; values below
// Granularity are rounded up). If no free block fits the request the heap is
// grown and the search retried; running out of window space, or asking for
// more than the window can hold, panics.
func (h *Heap) Alloc(size, align uintptr) uintptr {
	if align&(align-1) != 0 {
		panic(errBadAlign)
	}

	if align < Granularity {
		align = Granularity
	}

	// no request larger than the whole window can ever be served; this also
	// keeps the rounding and growth arithmetic below from wrapping
	if size > h.maxSize || align > h.maxSize || size+align+headerSize < size {
		panic(errHeapExhausted)
	}

	if size == 0 {
		size = Granularity
	}
	size = mm.AlignUp(size, Granularity)

	for {
		if addr, ok := h.tryAlloc(size, align); ok {
			return addr
		}

		h.grow(size + align + headerSize)
	}
}

// tryAlloc carves the first free block that can fit an aligned data area of
// size bytes. Space in front of the block header and behind the data area
// stays on the free list.
func (h *Heap) tryAlloc(size, align uintptr) (uintptr, bool) {
	for prev, cur := uintptr(0), h.freeList; cur != 0; prev, cur = cur, header(cur).next {
		var (
			next       = header(cur).next
			blockEnd   = cur + header(cur).size
			data       = mm.AlignUp(cur+headerSize, align)
			allocStart = data - headerSize
			allocEnd   = data + size
		)

		if allocEnd > blockEnd {
			continue
		}

		after := next
		if allocEnd != blockEnd {
			tail := header(allocEnd)
			tail.size, tail.next = blockEnd-allocEnd, next
			after = allocEnd
		}

		if allocStart != cur {
			header(cur).size = allocStart - cur
			header(cur).next = after
		} else {
			h.link(prev, after)
		}

		hdr := header(allocStart)
		hdr.size, hdr.next = allocEnd-allocStart, allocMagic
		h.used += hdr.size
		return data, true
	}

	return 0, false
}

// link points the free block at prev (or the list head when prev is 0) to
// next.
func (h *Heap) link(prev, next uintptr) {
	if prev == 0 {
		h.freeList = next
		return
	}
	header(prev).next = next
}

// Free returns a block obtained from Alloc. Freeing any other address, or
// freeing twice, panics.
func (h *Heap) Free(addr uintptr) {
	if addr < h.start+headerSize || addr >= h.start+h.size || addr&(Granularity-1) != 0 {
		panic(errBadFree)
	}

	hdr := header(addr - headerSize)
	if hdr.next != allocMagic {
		panic(errBadFree)
	}

	h.used -= hdr.size
	h.release(addr-headerSize, hdr.size)
}

// release inserts [addr, addr+size) into the address-ordered free list and
// merges it with adjacent free blocks.
func (h *Heap) release(addr, size uintptr) {
	var prev uintptr
	next := h.freeList
	for next != 0 && next < addr {
		prev, next = next, header(next).next
	}

	blk := header(addr)
	blk.size, blk.next = size, next

	if next != 0 && addr+size == next {
		blk.size += header(next).size
		blk.next = header(next).next
	}

	if prev != 0 && prev+header(prev).size == addr {
		header(prev).size += blk.size
		header(prev).next = blk.next
		return
	}

	h.link(prev, addr)
}

// grow doubles the mapped heap size (capped at maxSize), enough to satisfy a
// request for at least minSize bytes, mapping the new pages with fresh
// frames. It panics when the heap cannot grow any further.
func (h *Heap) grow(minSize uintptr) {
	if h.size >= h.maxSize {
		panic(errHeapExhausted)
	}

	newSize := h.size << 1
	if newSize == 0 {
		newSize = mm.PageSize
	}
	for newSize-h.size < minSize && newSize < h.maxSize {
		newSize <<= 1
	}
	if newSize > h.maxSize {
		newSize = h.maxSize
	}

	for addr := h.start + h.size; addr < h.start+newSize; addr += mm.PageSize {
		frame, err := allocFrameFn()
		if err != nil {
			panic(err)
		}

		if err = mapPageFn(frame, mm.VirtAddr(addr), vmm.FlagRW|vmm.FlagNoExecute); err != nil {
			panic(err)
		}
	}

	kfmt.Printf("[kheap] grew heap from %d to %d KiB\n", h.size>>10, newSize>>10)

	h.release(h.start+h.size, newSize-h.size)
	h.size = newSize
}
