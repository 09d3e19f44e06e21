package vmm

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

var errFrameOutOfRange = &kernel.Error{Module: "vmm", Message: "frame does not fit the page table entry address field"}

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uint64

// PageTableEntry is a raw x86_64 page table entry with the following layout:
//
//	bit  0     present
//	bit  1     writable
//	bit  2     user accessible
//	bit  3     write-through caching
//	bit  4     cache disable
//	bit  5     accessed
//	bit  6     dirty
//	bit  7     huge page (PDPT and PD entries only)
//	bit  8     global
//	bits 9-11  available to software
//	bits 12-51 physical frame address
//	bits 52-62 available to software
//	bit  63    no execute
type PageTableEntry uint64

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) == uint64(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uint64(pte) & uint64(flags)) != 0
}

// Flags returns all entry bits outside of the frame address field.
func (pte PageTableEntry) Flags() PageTableEntryFlag {
	return PageTableEntryFlag(uint64(pte) &^ ptePhysPageMask)
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = PageTableEntry(uint64(*pte) | uint64(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = PageTableEntry(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() mm.Frame {
	return mm.Frame((uint64(pte) & ptePhysPageMask) >> mm.PageShift)
}

// SetFrame updates the page table entry to point to the given physical
// frame. It panics if the frame address does not fit in bits 12-51.
func (pte *PageTableEntry) SetFrame(frame mm.Frame) {
	addr := uint64(frame.Address())
	if addr&^ptePhysPageMask != 0 || uint64(frame) >= 1<<40 {
		panic(errFrameOutOfRange)
	}

	*pte = PageTableEntry((uint64(*pte) &^ ptePhysPageMask) | addr)
}

// PageTable is a page table at any level of the hierarchy.
type PageTable [entriesPerTable]PageTableEntry

// TableIndex returns the index of the entry in the level table (0 for the
// PML4, 3 for the PT) that translates virt.
func TableIndex(virt mm.VirtAddr, level uint8) uintptr {
	return (uintptr(virt) >> pageLevelShifts[level]) & (entriesPerTable - 1)
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virt mm.VirtAddr) uintptr {
	return uintptr(virt) & (mm.PageSize - 1)
}
