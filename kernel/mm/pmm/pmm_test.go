package pmm

import (
	"testing"
	"unsafe"

	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

// physMem simulates a range of physical memory with a page-aligned Go buffer.
type physMem struct {
	buf        []byte
	hhdmOffset uintptr
}

// newPhysMem returns memory that backs the physical range [physBase,
// physBase+size) when accessed at hhdmOffset+physAddr.
func newPhysMem(physBase, size uintptr) *physMem {
	buf := make([]byte, size+mm.PageSize)
	windowBuffers = append(windowBuffers, buf)
	aligned := mm.AlignUp(uintptr(unsafe.Pointer(&buf[0])), mm.PageSize)

	// fill with junk
	for i := range buf {
		buf[i] = 0xf0
	}

	return &physMem{buf: buf, hhdmOffset: aligned - physBase}
}

// windowBuffers keeps simulated memory reachable after callers drop the
// buffer; the code under test only refers to it through uintptr values.
var windowBuffers [][]byte

// newWindow returns a page-aligned buffer usable as a memory map window.
func newWindow(size uintptr) ([]byte, Window) {
	buf := make([]byte, size+mm.PageSize)
	windowBuffers = append(windowBuffers, buf)
	aligned := mm.AlignUp(uintptr(unsafe.Pointer(&buf[0])), mm.PageSize)
	return buf, Window{Base: mm.VirtAddr(aligned), Size: size}
}

// testBootMap returns a BootMemoryMap holding entries whose storage lives on
// the Go heap.
func testBootMap(entries ...MemoryMapEntry) *BootMemoryMap {
	bm := &BootMemoryMap{entries: make([]MemoryMapEntry, 0, len(entries)+BootReservedEntries)}
	for _, e := range entries {
		bm.Push(e)
	}
	return bm
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

func unsafeEntriesAddr(bm *BootMemoryMap) unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(bm.entries))
}
