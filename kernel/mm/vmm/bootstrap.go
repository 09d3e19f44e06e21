package vmm

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
	"github.com/hxyulin/hadron-sub000/kernel/mm/pmm"
)

// Capacities of the intermediate table sets kept by the bootstrap builder.
const (
	BootPDPTCapacity = 8
	BootPDCapacity   = 32
	BootPTCapacity   = 128
)

var (
	errBootTableCapacity  = &kernel.Error{Module: "vmm", Message: "bootstrap page table capacity exceeded"}
	errBootTableDuplicate = &kernel.Error{Module: "vmm", Message: "bootstrap page table allocated twice for the same index"}
	errMisalignedRange    = &kernel.Error{Module: "vmm", Message: "mapping range is not page aligned"}
)

// bootTableKey packs the PML4, PDPT and PD indices that lead to an
// intermediate table. Unused trailing indices are zero.
type bootTableKey [3]uint16

type bootTable struct {
	key   bootTableKey
	frame mm.Frame
}

// bootTableSet records every intermediate table allocated while building
// the bootstrap hierarchy, keyed by the indices leading to it.
type bootTableSet struct {
	alloc *pmm.BootMemAllocator

	pdpt    [BootPDPTCapacity]bootTable
	pdptLen int
	pd      [BootPDCapacity]bootTable
	pdLen   int
	pt      [BootPTCapacity]bootTable
	ptLen   int
}

func tableKey(level uint8, virt mm.VirtAddr) bootTableKey {
	var key bootTableKey
	for i := uint8(0); i < level; i++ {
		key[i] = uint16(TableIndex(virt, i))
	}
	return key
}

// level returns the backing array and its length for tables at level
// (1 = PDPT, 3 = PT).
func (s *bootTableSet) level(level uint8) ([]bootTable, *int) {
	switch level {
	case 1:
		return s.pdpt[:], &s.pdptLen
	case 2:
		return s.pd[:], &s.pdLen
	default:
		return s.pt[:], &s.ptLen
	}
}

// lookup returns the frame of the table at level on the path to virt.
func (s *bootTableSet) lookup(level uint8, virt mm.VirtAddr) (mm.Frame, bool) {
	tables, count := s.level(level)
	key := tableKey(level, virt)
	for i := 0; i < *count; i++ {
		if tables[i].key == key {
			return tables[i].frame, true
		}
	}
	return mm.InvalidFrame, false
}

// AllocTable implements TableSource. Tables come from below
// mm.LowMemoryCeiling.
func (s *bootTableSet) AllocTable(level uint8, virt mm.VirtAddr) (mm.Frame, *kernel.Error) {
	if _, exists := s.lookup(level, virt); exists {
		return mm.InvalidFrame, errBootTableDuplicate
	}

	tables, count := s.level(level)
	if *count == len(tables) {
		return mm.InvalidFrame, errBootTableCapacity
	}

	frame, err := s.alloc.AllocLowFrame()
	if err != nil {
		return mm.InvalidFrame, err
	}

	tables[*count] = bootTable{key: tableKey(level, virt), frame: frame}
	*count++
	return frame, nil
}

// BootstrapBuilder builds the page table hierarchy that the kernel switches
// to during the handoff. Tables are reached exclusively through the HHDM
// and every frame comes from the bootstrap allocator.
//
// The PML4 gets a recursive entry in RecursiveSlot so that the runtime
// mapper can reach the tables once the hierarchy is active; the builder
// never translates through it.
type BootstrapBuilder struct {
	hhdmOffset uintptr
	root       mm.Frame
	tables     bootTableSet
}

// NewBootstrapBuilder allocates and clears a PML4 below mm.LowMemoryCeiling
// and installs the recursive entry. Any failure is fatal.
func NewBootstrapBuilder(hhdmOffset uintptr, alloc *pmm.BootMemAllocator) BootstrapBuilder {
	root, err := alloc.AllocLowFrame()
	if err != nil {
		panic(err)
	}

	b := BootstrapBuilder{
		hhdmOffset: hhdmOffset,
		root:       root,
		tables:     bootTableSet{alloc: alloc},
	}

	pml4 := b.access().Table(0, 0, root)
	*pml4 = PageTable{}
	pml4[RecursiveSlot].SetFrame(root)
	pml4[RecursiveSlot].SetFlags(FlagPresent | FlagRW | FlagNoExecute)

	return b
}

func (b *BootstrapBuilder) access() DirectMap {
	return DirectMap{Offset: b.hhdmOffset}
}

func (b *BootstrapBuilder) mapper() Mapper[DirectMap] {
	return NewMapper(b.root, b.access(), &b.tables)
}

// Root returns the PML4 frame of the hierarchy.
func (b *BootstrapBuilder) Root() mm.Frame {
	return b.root
}

// Map installs a 4 KiB mapping for page. Running out of table capacity,
// running out of frames or mapping inside the recursive slot is fatal.
func (b *BootstrapBuilder) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) {
	m := b.mapper()
	if err := m.Map(page, frame, flags); err != nil {
		panic(err)
	}
}

// MapPage adapts Map to pmm.MapPageFn with writable, non-executable flags.
func (b *BootstrapBuilder) MapPage(page mm.Page, frame mm.Frame) *kernel.Error {
	b.Map(page, frame, FlagRW|FlagNoExecute)
	return nil
}

// MapRange maps size bytes of physical memory starting at phys to the
// virtual range starting at virt. All arguments must be page aligned.
func (b *BootstrapBuilder) MapRange(virt mm.VirtAddr, phys mm.PhysAddr, size uintptr, flags PageTableEntryFlag) {
	if !virt.IsAligned(mm.PageSize) || !phys.IsAligned(mm.PageSize) || !mm.IsAligned(size, mm.PageSize) {
		panic(errMisalignedRange)
	}

	page, frame := virt.Page(), phys.Frame()
	for offset := uintptr(0); offset < size; offset, page, frame = offset+mm.PageSize, page+1, frame+1 {
		b.Map(page, frame, flags)
	}
}

// MapFresh backs size bytes starting at virt with newly allocated, zeroed
// and physically contiguous frames and returns the first of them.
func (b *BootstrapBuilder) MapFresh(virt mm.VirtAddr, size uintptr, flags PageTableEntryFlag) mm.Frame {
	if !mm.IsAligned(size, mm.PageSize) || size == 0 {
		panic(errMisalignedRange)
	}

	first, err := b.tables.alloc.AllocContiguous(uint64(size >> mm.PageShift))
	if err != nil {
		panic(err)
	}

	kernel.Memset(b.hhdmOffset+first.Address(), 0, size)
	b.MapRange(virt, mm.PhysAddr(first.Address()), size, flags)
	return first
}

// Translate returns the physical address mapped at virt by the hierarchy
// being built.
func (b *BootstrapBuilder) Translate(virt mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	m := b.mapper()
	return m.Translate(virt)
}

// Lookup returns the leaf entry that maps virt in the hierarchy being built.
func (b *BootstrapBuilder) Lookup(virt mm.VirtAddr) (PageTableEntry, *kernel.Error) {
	m := b.mapper()
	return m.Lookup(virt)
}

// TableCounts returns the number of PDPT, PD and PT tables allocated so far.
func (b *BootstrapBuilder) TableCounts() (pdpt, pd, pt int) {
	return b.tables.pdptLen, b.tables.pdLen, b.tables.ptLen
}

// Print writes a summary of the allocated tables to the console.
func (b *BootstrapBuilder) Print() {
	kfmt.Printf("[vmm] bootstrap PML4 at 0x%x: %d/%d PDPT, %d/%d PD, %d/%d PT\n",
		b.root.Address(),
		b.tables.pdptLen, BootPDPTCapacity,
		b.tables.pdLen, BootPDCapacity,
		b.tables.ptLen, BootPTCapacity,
	)
}
