package vmm

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	errNoHugePageSupport  = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errRecursiveSlotInUse = &kernel.Error{Module: "vmm", Message: "virtual address falls inside the recursive mapping slot"}
)

// TableSource supplies the frames for intermediate page tables.
type TableSource interface {
	// AllocTable returns a frame for a new table at level (1 = PDPT, 3 =
	// PT) on the translation path of virt.
	AllocTable(level uint8, virt mm.VirtAddr) (mm.Frame, *kernel.Error)
}

// Mapper manipulates a 4-level page table hierarchy rooted at a PML4 frame.
// The way tables are reached is selected by the access scheme A; the same
// walking code serves the boot-time direct map and the runtime recursive
// mapping.
type Mapper[A TableAccess] struct {
	root    mm.Frame
	access  A
	sources TableSource
}

// NewMapper returns a mapper for the hierarchy rooted at root.
func NewMapper[A TableAccess](root mm.Frame, access A, sources TableSource) Mapper[A] {
	return Mapper[A]{root: root, access: access, sources: sources}
}

// Root returns the PML4 frame.
func (m *Mapper[A]) Root() mm.Frame {
	return m.root
}

// Map establishes a mapping between a virtual page and a physical memory
// frame; FlagPresent is always added to flags. Missing intermediate tables
// are allocated from the table source, linked into their parent entry as
// present and writable and then zeroed. The cached translation for page is
// invalidated through the access scheme.
//
// Pages inside mm.PageTables are translated through the recursive PML4 slot
// and are refused, since their leaf entries are the tables themselves.
func (m *Mapper[A]) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	virt := page.VirtAddr()
	if mm.PageTables.Contains(virt) {
		return errRecursiveSlotInUse
	}

	tableFrame := m.root

	for level := uint8(0); ; level++ {
		pte := &m.access.Table(level, virt, tableFrame)[TableIndex(virt, level)]

		// If we reached the last level all we need to do is to map the
		// frame in place and flush its TLB entry
		if level == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			m.access.Invalidate(virt)
			return nil
		}

		if pte.HasFlags(FlagHugePage) {
			return errNoHugePageSupport
		}

		if !pte.HasFlags(FlagPresent) {
			newTableFrame, err := m.sources.AllocTable(level+1, virt)
			if err != nil {
				return err
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)

			*m.access.NewTable(level+1, virt, newTableFrame) = PageTable{}
		}

		tableFrame = pte.Frame()
	}
}

// leaf returns the PT entry for virt or ErrInvalidMapping if an intermediate
// table is missing.
func (m *Mapper[A]) leaf(virt mm.VirtAddr) (*PageTableEntry, *kernel.Error) {
	tableFrame := m.root

	for level := uint8(0); ; level++ {
		pte := &m.access.Table(level, virt, tableFrame)[TableIndex(virt, level)]
		if level == pageLevels-1 {
			return pte, nil
		}

		if !pte.HasFlags(FlagPresent) {
			return nil, ErrInvalidMapping
		}

		if pte.HasFlags(FlagHugePage) {
			return nil, errNoHugePageSupport
		}

		tableFrame = pte.Frame()
	}
}

// Unmap clears the mapping for page and invalidates its translation. Tables
// that become empty are not reclaimed. Pages inside mm.PageTables are
// refused like in Map.
func (m *Mapper[A]) Unmap(page mm.Page) *kernel.Error {
	virt := page.VirtAddr()
	if mm.PageTables.Contains(virt) {
		return errRecursiveSlotInUse
	}

	pte, err := m.leaf(virt)
	if err != nil {
		return err
	}

	if !pte.HasFlags(FlagPresent) {
		return ErrInvalidMapping
	}

	*pte = 0
	m.access.Invalidate(virt)
	return nil
}

// Lookup returns the PT entry that maps virt.
func (m *Mapper[A]) Lookup(virt mm.VirtAddr) (PageTableEntry, *kernel.Error) {
	pte, err := m.leaf(virt)
	if err != nil {
		return 0, err
	}

	if !pte.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return *pte, nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (m *Mapper[A]) Translate(virt mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	pte, err := m.Lookup(virt)
	if err != nil {
		return 0, err
	}

	return mm.PhysAddr(pte.Frame().Address() + PageOffset(virt)), nil
}
