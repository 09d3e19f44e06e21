package vmm

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/cpu"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
	"github.com/hxyulin/hadron-sub000/kernel/sync"
)

var (
	kernelPageTable = sync.Global[KernelPageTable]{Name: "vmm"}

	errMisalignedPage = &kernel.Error{Module: "vmm", Message: "virtual address is not page aligned"}

	// activePDTFn is used by tests to override calls to cpu.ActivePDT
	// which will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT
)

// KernelPageTable is the mapper for the active address space after the
// handoff. Tables are reached through the recursive slot and new tables are
// allocated with mm.AllocFrame.
type KernelPageTable = Mapper[RecursiveMap]

// frameSource implements TableSource on top of the registered frame
// allocator.
type frameSource struct{}

func (frameSource) AllocTable(_ uint8, _ mm.VirtAddr) (mm.Frame, *kernel.Error) {
	return mm.AllocFrame()
}

// Init sets up the kernel page table for the currently active PML4. The
// PML4 must carry the recursive entry installed by BootstrapBuilder and a
// frame allocator must already be registered with mm.
func Init() {
	root := mm.FrameFromAddress(activePDTFn())
	kernelPageTable.Init(NewMapper(root, RecursiveMap{Slot: RecursiveSlot}, TableSource(frameSource{})))
	kfmt.Printf("[vmm] kernel page table active, PML4 at 0x%x\n", root.Address())
}

// MapPage maps frame at virt in the kernel address space. Running out of
// frames for intermediate tables is reported to the caller. A misaligned virt
// or one inside mm.PageTables violates the caller contract and panics.
func MapPage(frame mm.Frame, virt mm.VirtAddr, flags PageTableEntryFlag) *kernel.Error {
	if !virt.IsAligned(mm.PageSize) {
		panic(errMisalignedPage)
	}

	h := kernelPageTable.Handle()
	pt := h.Lock()
	defer h.Unlock()

	err := pt.Map(virt.Page(), frame, flags)
	if err == errRecursiveSlotInUse {
		panic(err)
	}
	return err
}

// UnmapPage removes the kernel mapping of the page at virt. The caller must
// own the mapping: unmapping a misaligned address, an address that is not
// mapped or one inside mm.PageTables panics.
func UnmapPage(virt mm.VirtAddr) {
	if !virt.IsAligned(mm.PageSize) {
		panic(errMisalignedPage)
	}

	h := kernelPageTable.Handle()
	pt := h.Lock()
	defer h.Unlock()

	if err := pt.Unmap(virt.Page()); err != nil {
		panic(err)
	}
}

// Translate returns the physical address mapped at virt in the kernel
// address space.
func Translate(virt mm.VirtAddr) (mm.PhysAddr, *kernel.Error) {
	h := kernelPageTable.Handle()
	pt := h.Lock()
	defer h.Unlock()

	return pt.Translate(virt)
}
