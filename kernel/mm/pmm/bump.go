package pmm

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

// bumpAlign is the alignment of every allocation made by a bumpAllocator.
const bumpAlign = 64

var errBumpExhausted = &kernel.Error{Module: "pmm", Message: "memory map window exhausted"}

// bumpAllocator hands out consecutive chunks of a fixed, already mapped
// virtual memory window. Memory is never returned.
type bumpAllocator struct {
	start, next, end uintptr
}

func newBumpAllocator(base mm.VirtAddr, size uintptr) bumpAllocator {
	return bumpAllocator{
		start: uintptr(base),
		next:  uintptr(base),
		end:   uintptr(base) + size,
	}
}

// alloc reserves size bytes aligned to bumpAlign. It panics if the window
// cannot fit the request.
func (b *bumpAllocator) alloc(size uintptr) uintptr {
	addr := mm.AlignUp(b.next, bumpAlign)
	if addr+size > b.end {
		panic(errBumpExhausted)
	}

	b.next = addr + size
	return addr
}

// used returns the number of bytes consumed so far.
func (b *bumpAllocator) used() uintptr {
	return b.next - b.start
}
