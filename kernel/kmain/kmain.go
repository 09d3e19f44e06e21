// Package kmain contains the kernel main function that runs once the boot
// sequence has replaced every bootstrap memory structure.
package kmain

import (
	"github.com/hxyulin/hadron-sub000/kernel/boot"
	"github.com/hxyulin/hadron-sub000/kernel/cpu"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm/kheap"
	"github.com/hxyulin/hadron-sub000/kernel/mm/pmm"
)

var (
	// The following functions are mocked by tests.
	cpuHaltFn     = cpu.Halt
	pmmStatsFn    = pmm.Stats
	heapSizeFn    = kheap.Size
	printMemMapFn = pmm.PrintMemoryMap
)

// Kmain is invoked by stage 2 of the boot sequence on the kernel stack. The
// frame allocator, the kernel page table and the heap are all available at
// this point.
//
// Kmain is not expected to return; it parks the CPU once the memory report
// has been printed.
//
//go:noinline
func Kmain(params boot.Params) {
	total, free := pmmStatsFn()
	kfmt.Printf("[kmain] %d KiB of %d KiB physical memory free\n", free<<2, total<<2)
	kfmt.Printf("[kmain] kernel heap: %d KiB mapped\n", heapSizeFn()>>10)
	printMemMapFn()

	if params.RSDPAddr != 0 {
		kfmt.Printf("[kmain] ACPI RSDP at 0x%x\n", uintptr(params.RSDPAddr))
	} else {
		kfmt.Printf("[kmain] no ACPI RSDP reported\n")
	}

	if fb := params.Framebuffer; fb != nil {
		kfmt.Printf("[kmain] framebuffer %dx%dx%d at 0x%x\n", fb.Width, fb.Height, fb.Bpp, uintptr(fb.PhysAddr))
	}

	cpuHaltFn()
}
