package vmm

import (
	"unsafe"

	"github.com/hxyulin/hadron-sub000/kernel/cpu"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

var (
	// flushTLBEntryFn is used by tests to override calls to flushTLBEntry
	// which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	// tablePtrFn converts a virtual table address into a pointer. Tests
	// replace it to emulate the MMU for recursive addresses.
	tablePtrFn = func(addr uintptr) *PageTable {
		return (*PageTable)(unsafe.Pointer(addr))
	}
)

// TableAccess resolves the virtual address through which the kernel reads and
// writes a page table. Each Mapper uses exactly one scheme.
type TableAccess interface {
	// Table returns the table at level (0 = PML4) on the translation path
	// of virt. frame is the physical frame of that table.
	Table(level uint8, virt mm.VirtAddr, frame mm.Frame) *PageTable

	// NewTable behaves like Table for a table that has just been linked
	// into its parent entry and is about to be zeroed.
	NewTable(level uint8, virt mm.VirtAddr, frame mm.Frame) *PageTable

	// Invalidate drops any cached translation for virt after its leaf
	// entry has changed.
	Invalidate(virt mm.VirtAddr)
}

// DirectMap reaches page tables through a linear mapping of all physical
// memory at Offset, such as the bootloader-provided HHDM. It is used for
// hierarchies that are not active yet, so no TLB maintenance is performed.
type DirectMap struct {
	Offset uintptr
}

// Table implements TableAccess.
func (d DirectMap) Table(_ uint8, _ mm.VirtAddr, frame mm.Frame) *PageTable {
	return tablePtrFn(d.Offset + frame.Address())
}

// NewTable implements TableAccess.
func (d DirectMap) NewTable(level uint8, virt mm.VirtAddr, frame mm.Frame) *PageTable {
	return d.Table(level, virt, frame)
}

// Invalidate implements TableAccess.
func (DirectMap) Invalidate(_ mm.VirtAddr) {}

// RecursiveMap reaches the tables of the active hierarchy through a PML4
// entry that points to the PML4 itself.
type RecursiveMap struct {
	Slot uintptr
}

// TableAddr returns the virtual address of the table at level on the
// translation path of virt. The address selects the recursive slot
// (pageLevels-level) times followed by the first level indices of virt.
func (r RecursiveMap) TableAddr(level uint8, virt mm.VirtAddr) uintptr {
	var addr uintptr

	for i := uint8(0); i < pageLevels; i++ {
		index := r.Slot
		if i >= pageLevels-level {
			index = TableIndex(virt, i-(pageLevels-level))
		}
		addr |= index << pageLevelShifts[i]
	}

	return uintptr(mm.VirtAddrTruncate(addr))
}

// Table implements TableAccess.
func (r RecursiveMap) Table(level uint8, virt mm.VirtAddr, _ mm.Frame) *PageTable {
	return tablePtrFn(r.TableAddr(level, virt))
}

// NewTable implements TableAccess. The recursive address of a new table may
// still be cached with the translation of a table previously linked at the
// same position, so it is invalidated before use.
func (r RecursiveMap) NewTable(level uint8, virt mm.VirtAddr, _ mm.Frame) *PageTable {
	addr := r.TableAddr(level, virt)
	flushTLBEntryFn(addr)
	return tablePtrFn(addr)
}

// Invalidate implements TableAccess.
func (r RecursiveMap) Invalidate(virt mm.VirtAddr) {
	flushTLBEntryFn(uintptr(virt))
}
