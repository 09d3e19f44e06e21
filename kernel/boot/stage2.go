package boot

import (
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
	"github.com/hxyulin/hadron-sub000/kernel/mm/kheap"
	"github.com/hxyulin/hadron-sub000/kernel/mm/pmm"
	"github.com/hxyulin/hadron-sub000/kernel/mm/vmm"
)

// The following functions are used by tests to mock the subsystem
// initializers invoked by stage 2. They all install process-wide singletons
// that can only be initialized once.
var (
	kheapInitFn         = kheap.Init
	fromBootstrapFn     = pmm.FromBootstrap
	pmmInitFn           = pmm.Init
	vmmInitFn           = vmm.Init
	unmapPageFn         = vmm.UnmapPage
	freeSpecialRegionFn = pmm.FreeSpecialRegion
	pmmStatsFn          = pmm.Stats
)

// stage2 runs on the kernel stack inside the address space built by stage 1.
// It replaces every bootstrap structure with its runtime counterpart and
// then calls the kernel main function.
func stage2() {
	defer reportFatal()
	enterStage("stage 2")

	kfmt.SetOutputSink(&serialPort)
	kfmt.Printf("[boot] stage 2: running on the kernel stack\n")

	kheapInitFn(mm.KernelHeap.Base, HeapSeedSize)

	pmmInitFn(fromBootstrapFn(&bootMemMap, mmWindow))
	vmmInitFn()

	// the memory map storage is now part of the frame pool
	for offset := uintptr(0); offset < storageAliasSize; offset += mm.PageSize {
		unmapPageFn(storageAlias.Add(offset))
	}

	before, _ := pmmStatsFn()
	freeSpecialRegionFn(pmm.BootloaderReclaimable)
	total, free := pmmStatsFn()
	kfmt.Printf("[boot] reclaimed %d bootloader pages, %d/%d pages free\n", total-before, free, total)

	params := Params{RSDPAddr: rsdpAddr}
	if hasFramebuffer {
		params.Framebuffer = &framebuffer
	}

	if kernelMainFn != nil {
		enterStage("kmain")
		kernelMainFn(params)
	}

	panicFn(errKernelMainReturned)
}
