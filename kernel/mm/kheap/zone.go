package kheap

import (
	"unsafe"

	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

// MaxZones is the capacity of the zone table.
const MaxZones = 16

var (
	errZoneTableFull = &kernel.Error{Module: "kheap", Message: "zone table capacity exceeded"}
	errZoneExists    = &kernel.Error{Module: "kheap", Message: "zone name already in use"}
	errZoneTooSmall  = &kernel.Error{Module: "kheap", Message: "zone cannot hold a single object"}
	errZoneInvalid   = &kernel.Error{Module: "kheap", Message: "unknown zone"}
	errZoneFull      = &kernel.Error{Module: "kheap", Message: "zone has no free objects"}
	errZoneBadFree   = &kernel.Error{Module: "kheap", Message: "object does not belong to zone or is already free"}
)

// ZoneID identifies a zone created with CreateZone.
type ZoneID uint8

// ZoneStats describes the state of a zone.
type ZoneStats struct {
	Name     string
	ObjSize  uintptr
	Capacity uint64
	Used     uint64
}

// zone hands out fixed-size objects from a single slab. Both the slab and
// the bitmap tracking it are allocated from the generic heap when the zone
// is created; zones never grow.
type zone struct {
	name    string
	objSize uintptr
	slab    uintptr
	bitmap  mm.Bitmap
	used    uint64
}

func (z *zone) stats() ZoneStats {
	return ZoneStats{Name: z.name, ObjSize: z.objSize, Capacity: z.bitmap.Len(), Used: z.used}
}

// CreateZone reserves initialSize bytes for objects of objSize bytes
// (rounded up to Granularity) and returns the new zone.
func (h *Heap) CreateZone(name string, initialSize, objSize uintptr) (ZoneID, *kernel.Error) {
	if _, exists := h.ZoneID(name); exists {
		return 0, errZoneExists
	}

	if h.zoneCount == MaxZones {
		return 0, errZoneTableFull
	}

	objSize = mm.AlignUp(objSize, Granularity)
	if objSize == 0 || initialSize < objSize {
		return 0, errZoneTooSmall
	}

	count := uint64(initialSize / objSize)
	words := mm.BitmapWords(count)

	bitmapAddr := h.Alloc(uintptr(words)<<3, 8)
	z := &h.zones[h.zoneCount]
	*z = zone{
		name:    name,
		objSize: objSize,
		slab:    h.Alloc(uintptr(count)*objSize, Granularity),
		bitmap:  mm.NewBitmap(unsafe.Slice((*uint64)(unsafe.Pointer(bitmapAddr)), words), count),
	}

	id := ZoneID(h.zoneCount)
	h.zoneCount++
	return id, nil
}

// ZoneID looks up a zone by name.
func (h *Heap) ZoneID(name string) (ZoneID, bool) {
	for i := 0; i < h.zoneCount; i++ {
		if h.zones[i].name == name {
			return ZoneID(i), true
		}
	}
	return 0, false
}

func (h *Heap) zone(id ZoneID) *zone {
	if int(id) >= h.zoneCount {
		panic(errZoneInvalid)
	}
	return &h.zones[id]
}

// ZoneInfo returns the state of zone id.
func (h *Heap) ZoneInfo(id ZoneID) ZoneStats {
	return h.zone(id).stats()
}

// ZoneAlloc reserves one object from zone id.
func (h *Heap) ZoneAlloc(id ZoneID) (uintptr, *kernel.Error) {
	z := h.zone(id)

	index, ok := z.bitmap.FindFree()
	if !ok {
		return 0, errZoneFull
	}

	z.bitmap.Set(index)
	z.used++
	return z.slab + uintptr(index)*z.objSize, nil
}

// ZoneFree returns an object to zone id. Freeing an object that the zone did
// not hand out panics.
func (h *Heap) ZoneFree(id ZoneID, addr uintptr) {
	z := h.zone(id)

	if addr < z.slab || (addr-z.slab)%z.objSize != 0 {
		panic(errZoneBadFree)
	}

	index := uint64((addr - z.slab) / z.objSize)
	if index >= z.bitmap.Len() || !z.bitmap.Get(index) {
		panic(errZoneBadFree)
	}

	z.bitmap.Clear(index)
	z.used--
}
