package pmm

import (
	"unsafe"

	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

// BootReservedEntries is the number of spare entry slots allocated on top of
// the bootloader records so that the map can grow while booting (splits
// caused by its own storage, regions returned by DeallocRegion).
const BootReservedEntries = 8

var (
	errNoRegionForMemoryMap = &kernel.Error{Module: "boot_mem_map", Message: "no usable region can hold the memory map"}
	errMemoryMapFull        = &kernel.Error{Module: "boot_mem_map", Message: "memory map capacity exceeded"}

	sizeofEntry = unsafe.Sizeof(MemoryMapEntry{})
)

// BootMemoryMap is the classified list of physical memory ranges used while
// booting. Its entries live in a Usable region picked at ingest time and are
// accessed through the bootloader's direct map; the range backing them is
// excluded from the entries so the map never describes itself as free.
type BootMemoryMap struct {
	entries     []MemoryMapEntry
	storageBase mm.PhysAddr
	storageSize uintptr
}

// IngestMemoryMap copies the bootloader records into a new BootMemoryMap.
//
// The storage for len(records)+BootReservedEntries entries is taken from the
// first Usable record below mm.LowMemoryCeiling that can fit it and accessed
// at hhdmOffset+physAddr. Records overlapping that storage are trimmed or
// split around it and Usable records are shrunk to page boundaries; records
// that end up empty are dropped. IngestMemoryMap panics if no record can
// hold the storage.
func IngestMemoryMap(records []MemoryMapEntry, hhdmOffset uintptr) BootMemoryMap {
	var (
		capacity    = len(records) + BootReservedEntries
		storageSize = mm.AlignUp(uintptr(capacity)*sizeofEntry, mm.PageSize)
		storageBase mm.PhysAddr
		found       bool
	)

	for _, rec := range records {
		if rec.Type != Usable {
			continue
		}

		start := rec.Base.AlignUp(mm.PageSize)
		if uintptr(start)+storageSize > mm.LowMemoryCeiling {
			continue
		}

		if rec.End().AlignDown(mm.PageSize) >= start+mm.PhysAddr(storageSize) {
			storageBase, found = start, true
			break
		}
	}

	if !found {
		panic(errNoRegionForMemoryMap)
	}

	bm := BootMemoryMap{
		entries:     unsafe.Slice((*MemoryMapEntry)(unsafe.Pointer(hhdmOffset+uintptr(storageBase))), capacity)[:0],
		storageBase: storageBase,
		storageSize: storageSize,
	}

	storageEnd := storageBase + mm.PhysAddr(storageSize)
	for _, rec := range records {
		if rec.Base >= storageEnd || rec.End() <= storageBase {
			bm.pushTrimmed(rec)
			continue
		}

		if rec.Base < storageBase {
			bm.pushTrimmed(MemoryMapEntry{Base: rec.Base, Length: uint64(storageBase - rec.Base), Type: rec.Type})
		}

		if rec.End() > storageEnd {
			bm.pushTrimmed(MemoryMapEntry{Base: storageEnd, Length: uint64(rec.End() - storageEnd), Type: rec.Type})
		}
	}

	return bm
}

// pushTrimmed appends e, page-aligning Usable ranges and dropping empty ones.
func (bm *BootMemoryMap) pushTrimmed(e MemoryMapEntry) {
	if e.Type == Usable {
		start, pages := e.innerFrames()
		e.Base, e.Length = mm.PhysAddr(start.Address()), pages<<mm.PageShift
	}

	if e.Length == 0 {
		return
	}

	bm.Push(e)
}

// Push appends e to the map. It panics if the map is full.
func (bm *BootMemoryMap) Push(e MemoryMapEntry) {
	if len(bm.entries) == cap(bm.entries) {
		panic(errMemoryMapFull)
	}
	bm.entries = append(bm.entries, e)
}

// Len returns the number of entries in the map.
func (bm *BootMemoryMap) Len() int {
	return len(bm.entries)
}

// Cap returns the maximum number of entries the map can hold.
func (bm *BootMemoryMap) Cap() int {
	return cap(bm.entries)
}

// Entries returns the map entries. Callers may modify entries in place.
func (bm *BootMemoryMap) Entries() []MemoryMapEntry {
	return bm.entries
}

// StorageRange returns the page-aligned physical range that holds the map
// entries.
func (bm *BootMemoryMap) StorageRange() (mm.PhysAddr, uintptr) {
	return bm.storageBase, bm.storageSize
}

// TotalUsable returns the number of bytes described as Usable.
func (bm *BootMemoryMap) TotalUsable() uint64 {
	var total uint64
	for _, e := range bm.entries {
		if e.Type == Usable {
			total += e.Length
		}
	}
	return total
}

// Print dumps the memory map to the console.
func (bm *BootMemoryMap) Print() {
	kfmt.Printf("[boot_mem_map] system memory map:\n")
	for _, e := range bm.entries {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", uintptr(e.Base), uintptr(e.End()), e.Length, e.Type.String())
	}
	kfmt.Printf("[boot_mem_map] available memory: %dKb\n", bm.TotalUsable()>>10)
	kfmt.Printf("[boot_mem_map] map storage: 0x%x (%d entries max)\n", uintptr(bm.storageBase), cap(bm.entries))
}
