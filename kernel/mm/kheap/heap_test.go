package kheap

import (
	"testing"
	"unsafe"

	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
	"github.com/hxyulin/hadron-sub000/kernel/mm/vmm"
)

// heapBuffers keeps the memory of test heaps reachable; heaps only refer to
// it through uintptr values.
var heapBuffers [][]byte

// testHeap returns a heap with mappedPages mapped out of a page-aligned
// buffer of maxPages. Growing the heap maps pages with mocked functions that
// count the mapped pages.
func testHeap(t *testing.T, mappedPages, maxPages uintptr) (*Heap, *int) {
	buf := make([]byte, (maxPages+1)*mm.PageSize)
	heapBuffers = append(heapBuffers, buf)
	start := mm.AlignUp(uintptr(unsafe.Pointer(&buf[0])), mm.PageSize)

	var mapCount int
	nextFrame := mm.Frame(0x1000)

	allocFrameFn = func() (mm.Frame, *kernel.Error) {
		nextFrame++
		return nextFrame, nil
	}

	mapPageFn = func(_ mm.Frame, virt mm.VirtAddr, flags vmm.PageTableEntryFlag) *kernel.Error {
		if uintptr(virt) < start+mappedPages*mm.PageSize || uintptr(virt) >= start+maxPages*mm.PageSize {
			t.Errorf("unexpected mapping request for 0x%x", uintptr(virt))
		}

		if exp := vmm.FlagRW | vmm.FlagNoExecute; flags&exp != exp {
			t.Errorf("expected heap pages to be mapped RW|NX; got 0x%x", uint64(flags))
		}
		mapCount++
		return nil
	}

	h := NewHeap(mm.VirtAddr(start), mappedPages*mm.PageSize, maxPages*mm.PageSize)
	return &h, &mapCount
}

func restoreHeapFns() func() {
	origAlloc, origMap := allocFrameFn, mapPageFn
	return func() {
		allocFrameFn, mapPageFn = origAlloc, origMap
	}
}

func expectPanic(t *testing.T, expErr *kernel.Error, fn func()) {
	t.Helper()

	defer func() {
		if err := recover(); err != expErr {
			t.Fatalf("expected panic with %q; got %v", expErr.Message, err)
		}
	}()

	fn()
}

func (h *Heap) freeBlocks() (count int, total uintptr) {
	for cur := h.freeList; cur != 0; cur = header(cur).next {
		if next := header(cur).next; next != 0 && next <= cur+header(cur).size {
			panic("free list is not address ordered or has adjacent blocks")
		}
		count++
		total += header(cur).size
	}
	return count, total
}

func TestHeapAlloc(t *testing.T) {
	defer restoreHeapFns()()

	h, mapCount := testHeap(t, 16, 16)

	specs := []struct {
		size, align uintptr
	}{
		{1, 1},
		{16, 0},
		{100, 8},
		{24, 64},
		{4000, mm.PageSize},
		{33, 16},
		{0, 32},
		{512, 256},
	}

	type span struct{ start, end uintptr }
	var spans []span

	for specIndex, spec := range specs {
		addr := h.Alloc(spec.size, spec.align)

		align := spec.align
		if align < Granularity {
			align = Granularity
		}

		if addr&(align-1) != 0 {
			t.Errorf("[spec %d] expected address 0x%x to be aligned to %d", specIndex, addr, align)
		}

		if addr < h.start || addr+spec.size > h.start+h.size {
			t.Errorf("[spec %d] address 0x%x is outside the heap", specIndex, addr)
		}

		for otherIndex, other := range spans {
			if addr < other.end && other.start < addr+spec.size {
				t.Errorf("[spec %d] allocation overlaps with spec %d", specIndex, otherIndex)
			}
		}

		kernel.Memset(addr, byte(specIndex), spec.size)
		spans = append(spans, span{addr, addr + spec.size})
	}

	for specIndex, s := range spans {
		for addr := s.start; addr < s.end; addr++ {
			if got := *(*byte)(unsafe.Pointer(addr)); got != byte(specIndex) {
				t.Fatalf("[spec %d] allocation contents were overwritten", specIndex)
			}
		}
	}

	if *mapCount != 0 {
		t.Fatalf("expected no pages to be mapped; got %d", *mapCount)
	}

	_, free := h.freeBlocks()
	if h.Used()+free != h.Size() {
		t.Fatalf("expected used (%d) + free (%d) to equal heap size (%d)", h.Used(), free, h.Size())
	}
}

func TestHeapFreeCoalesces(t *testing.T) {
	defer restoreHeapFns()()

	h, _ := testHeap(t, 4, 4)

	var addrs [6]uintptr
	for i := range addrs {
		addrs[i] = h.Alloc(200, 16)
	}

	// free in an order that exercises merging with either neighbour
	for _, i := range []int{1, 3, 2, 5, 0, 4} {
		h.Free(addrs[i])
	}

	if count, total := h.freeBlocks(); count != 1 || total != h.Size() {
		t.Fatalf("expected a single free block of %d bytes; got %d blocks with %d bytes", h.Size(), count, total)
	}

	if h.Used() != 0 {
		t.Fatalf("expected no used bytes; got %d", h.Used())
	}

	// the whole heap can be handed out again in one piece
	if addr := h.Alloc(h.Size()-headerSize, 16); addr != h.start+headerSize {
		t.Fatalf("expected allocation at 0x%x; got 0x%x", h.start+headerSize, addr)
	}
}

func TestHeapGrow(t *testing.T) {
	defer restoreHeapFns()()

	t.Run("doubles once", func(t *testing.T) {
		h, mapCount := testHeap(t, 4, 64)

		h.Alloc(2*mm.PageSize, 16)
		if *mapCount != 0 {
			t.Fatal("expected first allocation to fit the mapped heap")
		}

		addr := h.Alloc(3*mm.PageSize, 16)

		if exp := 8 * mm.PageSize; h.Size() != exp {
			t.Fatalf("expected heap size to double to %d; got %d", exp, h.Size())
		}

		if *mapCount != 4 {
			t.Fatalf("expected grow to map 4 pages; got %d", *mapCount)
		}

		if addr+3*mm.PageSize > h.start+h.Size() {
			t.Fatal("expected allocation to fit in the grown heap")
		}
	})

	t.Run("grows past double for large requests", func(t *testing.T) {
		h, mapCount := testHeap(t, 1, 64)

		h.Alloc(10*mm.PageSize, 16)
		if exp := 16 * mm.PageSize; h.Size() != exp {
			t.Fatalf("expected heap size %d; got %d", exp, h.Size())
		}

		if *mapCount != 15 {
			t.Fatalf("expected 15 mapped pages; got %d", *mapCount)
		}
	})

	t.Run("capped at the window size", func(t *testing.T) {
		h, _ := testHeap(t, 4, 6)

		h.Alloc(5*mm.PageSize, 16)
		if exp := 6 * mm.PageSize; h.Size() != exp {
			t.Fatalf("expected heap size to be capped at %d; got %d", exp, h.Size())
		}

		expectPanic(t, errHeapExhausted, func() {
			h.Alloc(2*mm.PageSize, 16)
		})
	})

	t.Run("mapping error", func(t *testing.T) {
		h, _ := testHeap(t, 1, 4)

		expErr := &kernel.Error{Module: "test", Message: "map failed"}
		mapPageFn = func(_ mm.Frame, _ mm.VirtAddr, _ vmm.PageTableEntryFlag) *kernel.Error {
			return expErr
		}

		expectPanic(t, expErr, func() {
			h.Alloc(2*mm.PageSize, 16)
		})
	})

	t.Run("frame allocation error", func(t *testing.T) {
		h, _ := testHeap(t, 1, 4)

		expErr := &kernel.Error{Module: "test", Message: "out of frames"}
		allocFrameFn = func() (mm.Frame, *kernel.Error) {
			return mm.InvalidFrame, expErr
		}

		expectPanic(t, expErr, func() {
			h.Alloc(2*mm.PageSize, 16)
		})
	})
}

func TestHeapMisuse(t *testing.T) {
	defer restoreHeapFns()()

	h, _ := testHeap(t, 2, 2)
	addr := h.Alloc(64, 16)

	expectPanic(t, errBadAlign, func() { h.Alloc(16, 24) })
	expectPanic(t, errBadFree, func() { h.Free(addr + 16) })
	expectPanic(t, errBadFree, func() { h.Free(addr + 1) })
	expectPanic(t, errBadFree, func() { h.Free(h.start + h.Size()) })

	h.Free(addr)
	expectPanic(t, errBadFree, func() { h.Free(addr) })
}

func TestHeapOversizedRequests(t *testing.T) {
	defer restoreHeapFns()()

	specs := []struct {
		name  string
		size  uintptr
		align uintptr
	}{
		{"size wraps when rounded", ^uintptr(0) - 5, 16},
		{"size wraps with header", ^uintptr(0) - 2*Granularity, Granularity},
		{"larger than window", 4*mm.PageSize + 1, 16},
		{"alignment larger than window", 16, 1 << 62},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			h, mapCount := testHeap(t, 1, 4)

			expectPanic(t, errHeapExhausted, func() { h.Alloc(spec.size, spec.align) })

			if *mapCount != 0 || h.Size() != mm.PageSize || h.Used() != 0 {
				t.Fatalf("expected the heap to be left untouched; got %d mappings, size %d, used %d", *mapCount, h.Size(), h.Used())
			}
		})
	}
}
