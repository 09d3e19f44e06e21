package pmm

import (
	"unsafe"

	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

// RuntimeReservedEntries is the number of spare region slots in the runtime
// memory map for regions pushed after it has been built.
const RuntimeReservedEntries = 8

var (
	errRegionTableFull = &kernel.Error{Module: "pmm", Message: "region table capacity exceeded"}
	errWindowTooLarge  = &kernel.Error{Module: "pmm", Message: "memory map does not fit its virtual window"}

	sizeofRegion        = unsafe.Sizeof(Region{})
	sizeofSpecialRegion = unsafe.Sizeof(SpecialRegion{})
)

// Region tracks the allocation state of a contiguous range of physical
// frames with one bitmap bit per frame.
type Region struct {
	base      mm.Frame
	pages     uint64
	freeCount uint64
	bitmap    mm.Bitmap
}

// Base returns the first frame of the region.
func (r *Region) Base() mm.Frame { return r.base }

// Pages returns the number of frames tracked by the region.
func (r *Region) Pages() uint64 { return r.pages }

// FreeCount returns the number of frames that can still be allocated.
func (r *Region) FreeCount() uint64 { return r.freeCount }

// Contains returns true if f belongs to the region.
func (r *Region) Contains(f mm.Frame) bool {
	return f >= r.base && uint64(f-r.base) < r.pages
}

// Allocate reserves the lowest free frame of the region.
func (r *Region) Allocate() (mm.Frame, bool) {
	if r.freeCount == 0 {
		return mm.InvalidFrame, false
	}

	index, ok := r.bitmap.FindFree()
	if !ok {
		return mm.InvalidFrame, false
	}

	r.bitmap.Set(index)
	r.freeCount--
	return r.base + mm.Frame(index), true
}

// Deallocate marks f as free. It panics with errFrameNotAllocated if f is
// already free.
func (r *Region) Deallocate(f mm.Frame) {
	index := uint64(f - r.base)
	if !r.bitmap.Get(index) {
		panic(errFrameNotAllocated)
	}

	r.bitmap.Clear(index)
	r.freeCount++
}

// SpecialRegion is a region held outside of the allocation pool together
// with the bootloader type it was reported as.
type SpecialRegion struct {
	Type   RegionType
	Region Region
}

// MemoryMap is the permanent description of physical memory. All of its
// storage (region tables and bitmaps) is carved from a bump allocator over
// the memory-map window so it never depends on the kernel heap.
type MemoryMap struct {
	alloc   bumpAllocator
	entries []Region
	special []SpecialRegion
}

// Window is the virtual range that backs a MemoryMap.
type Window struct {
	Base mm.VirtAddr
	Size uintptr
}

// MapPageFn installs a writable, non-executable mapping for page.
type MapPageFn func(page mm.Page, frame mm.Frame) *kernel.Error

func bitmapBytes(pages uint64) uintptr {
	return mm.AlignUp(uintptr(mm.BitmapWords(pages))<<3, bumpAlign)
}

// mapLayout counts the regions that FromBootstrap creates for bm and the
// bitmap bytes they need.
func mapLayout(bm *BootMemoryMap) (regions, specials int, bitmapTotal uintptr) {
	for _, e := range bm.Entries() {
		_, pages := e.innerFrames()
		switch {
		case pages == 0:
			continue
		case e.Type == Usable:
			regions++
		case e.Type.special():
			specials++
		default:
			continue
		}
		bitmapTotal += bitmapBytes(pages)
	}

	_, storageSize := bm.StorageRange()
	bitmapTotal += bitmapBytes(uint64(storageSize >> mm.PageShift))
	return regions, specials, bitmapTotal
}

// RequiredWindowSize returns the page-aligned number of bytes that
// FromBootstrap needs to build the runtime memory map for bm. Region slots
// are reserved for every Usable and special region (special regions move to
// the pool when freed) plus RuntimeReservedEntries, and bitmaps are counted
// for all of them including the bootstrap map storage that gets folded back.
func RequiredWindowSize(bm *BootMemoryMap) uintptr {
	regions, specials, bitmapTotal := mapLayout(bm)

	size := mm.AlignUp(uintptr(regions+specials+RuntimeReservedEntries)*sizeofRegion, bumpAlign) +
		mm.AlignUp(uintptr(specials)*sizeofSpecialRegion, bumpAlign) +
		bitmapTotal +
		// slack for regions pushed at runtime
		mm.PageSize

	return mm.AlignUp(size, mm.PageSize)
}

// ReserveWindow maps a window large enough for the runtime memory map at the
// base of mm.MemoryMappings. Frames come from alloc and mappings are
// installed with mapFn; this is the last use of both bootstrap structures.
// Any failure is fatal.
func ReserveWindow(bm *BootMemoryMap, alloc *BootMemAllocator, mapFn MapPageFn) Window {
	w := Window{Base: mm.MemoryMappings.Base, Size: RequiredWindowSize(bm)}
	if w.Size > mm.MemoryMappings.Size {
		panic(errWindowTooLarge)
	}

	for offset := uintptr(0); offset < w.Size; offset += mm.PageSize {
		frame, err := alloc.AllocFrame()
		if err != nil {
			panic(err)
		}

		if err = mapFn(w.Base.Add(offset).Page(), frame); err != nil {
			panic(err)
		}
	}

	return w
}

// FromBootstrap builds the runtime memory map inside w, which must have been
// reserved with ReserveWindow for the same bm and be mapped in the active
// address space. One region is created per non-empty Usable entry, special
// entries are kept aside for FreeSpecialRegion and the frames backing bm are
// pushed as a final Usable region. bm must not be used afterwards.
func FromBootstrap(bm *BootMemoryMap, w Window) MemoryMap {
	regions, specials, _ := mapLayout(bm)

	m := MemoryMap{alloc: newBumpAllocator(w.Base, w.Size)}

	regionCap := regions + specials + RuntimeReservedEntries
	m.entries = unsafe.Slice((*Region)(unsafe.Pointer(m.alloc.alloc(uintptr(regionCap)*sizeofRegion))), regionCap)[:0]
	if specials != 0 {
		m.special = unsafe.Slice((*SpecialRegion)(unsafe.Pointer(m.alloc.alloc(uintptr(specials)*sizeofSpecialRegion))), specials)[:0]
	}

	for _, e := range bm.Entries() {
		start, pages := e.innerFrames()
		switch {
		case pages == 0:
		case e.Type == Usable:
			m.entries = append(m.entries, m.newRegion(start, pages))
		case e.Type.special():
			m.special = append(m.special, SpecialRegion{Type: e.Type, Region: m.newRegion(start, pages)})
		}
	}

	storageBase, storageSize := bm.StorageRange()
	m.PushRegion(storageBase, uint64(storageSize))

	return m
}

func (m *MemoryMap) newRegion(base mm.Frame, pages uint64) Region {
	words := mm.BitmapWords(pages)
	storage := unsafe.Slice((*uint64)(unsafe.Pointer(m.alloc.alloc(bitmapBytes(pages)))), words)

	return Region{
		base:      base,
		pages:     pages,
		freeCount: pages,
		bitmap:    mm.NewBitmap(storage, pages),
	}
}

// PushRegion adds the frames fully contained in [base, base+length) to the
// allocation pool. It panics if the region table is full.
func (m *MemoryMap) PushRegion(base mm.PhysAddr, length uint64) {
	start, pages := MemoryMapEntry{Base: base, Length: length}.innerFrames()
	if pages == 0 {
		return
	}

	m.pushRegion(m.newRegion(start, pages))
}

func (m *MemoryMap) pushRegion(r Region) {
	if len(m.entries) == cap(m.entries) {
		panic(errRegionTableFull)
	}
	m.entries = append(m.entries, r)
}

// Print dumps the region tables to the console.
func (m *MemoryMap) Print() {
	kfmt.Printf("[pmm] runtime memory map (%d bytes of bookkeeping):\n", m.alloc.used())
	for i := range m.entries {
		r := &m.entries[i]
		kfmt.Printf("\t[0x%10x - 0x%10x], pages: %8d, free: %8d\n", r.base.Address(), (r.base + mm.Frame(r.pages)).Address(), r.pages, r.freeCount)
	}
	for i := range m.special {
		s := &m.special[i]
		kfmt.Printf("\t[0x%10x - 0x%10x], pages: %8d, held: %s\n", s.Region.base.Address(), (s.Region.base + mm.Frame(s.Region.pages)).Address(), s.Region.pages, s.Type.String())
	}
}
