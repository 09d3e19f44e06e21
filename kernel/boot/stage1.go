package boot

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/driver/serial"
	"github.com/hxyulin/hadron-sub000/kernel/gdt"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
	"github.com/hxyulin/hadron-sub000/kernel/mm/pmm"
	"github.com/hxyulin/hadron-sub000/kernel/mm/vmm"
)

var (
	errUnsupportedRevision = &kernel.Error{Module: "boot", Message: "unsupported boot protocol revision"}
	errKernelTooLarge      = &kernel.Error{Module: "boot", Message: "kernel image exceeds its virtual window"}
	errMisalignedKernel    = &kernel.Error{Module: "boot", Message: "kernel image sections are not page aligned"}
	errStackTooLarge       = &kernel.Error{Module: "boot", Message: "kernel stack exceeds its virtual window"}

	// serialInitFn is used by tests to replace the serial console with an
	// in-memory sink.
	serialInitFn = initSerial

	// gdtInitFn is mocked by tests since loading segment registers faults
	// in user mode.
	gdtInitFn = gdt.Init

	bootPrefix = []byte("[boot] ")
)

// Boot state shared between the two stages. Everything lives in the kernel
// data section, which is mapped in both address spaces.
var (
	serialPort   serial.Port
	serialPrefix kfmt.PrefixWriter
	kernelMainFn func(Params)

	bootMemMap pmm.BootMemoryMap
	bootAlloc  pmm.BootMemAllocator
	builder    vmm.BootstrapBuilder
	mmWindow   pmm.Window

	framebuffer    FramebufferInfo
	hasFramebuffer bool
	rsdpAddr       mm.PhysAddr

	// storageAlias is the HHDM address at which the bootstrap memory map
	// storage stays mapped until stage 2 has consumed it.
	storageAlias     mm.VirtAddr
	storageAliasSize uintptr
)

// initSerial brings up COM1 and attaches it as the first console sink,
// tagging every stage 1 line with a boot prefix. Output written so far is
// flushed to it.
func initSerial() {
	serialPort = serial.NewPort(serial.COM1, serial.DefaultBaudRate)
	if err := serialPort.DriverInit(nil); err != nil {
		// nothing to report to yet; the message stays in the ring buffer
		kfmt.Printf("[boot] serial console unavailable: %s\n", err.Message)
		return
	}

	serialPrefix = kfmt.PrefixWriter{Sink: &serialPort, Prefix: bootPrefix}
	kfmt.AddOutputSink(&serialPrefix)
	kfmt.Printf("[serial] %s on port 0x%x\n", serialPort.DriverName(), serial.COM1)
}

// Start runs stage 1 of the boot sequence on the bootloader stack and page
// tables: it loads the kernel GDT, ingests the memory map, builds the kernel
// address space and hands off to stage 2, which eventually calls kmain.
// Start never returns.
func Start(info *Info, kmain func(Params)) {
	defer reportFatal()
	enterStage("stage 1")
	kfmt.SetPanicDiagnostics(printStage)

	serialInitFn()
	kernelMainFn = kmain

	validate(info)

	kfmt.Printf("protocol revision %d, HHDM at 0x%16x\n", info.Revision, info.HHDMOffset)
	kfmt.Printf("kernel at 0x%x (phys 0x%x), %d KiB text, %d KiB data\n",
		uintptr(info.KernelVirt), uintptr(info.KernelPhys), info.TextSize>>10, info.DataSize>>10)

	gdtInitFn()

	bootMemMap = pmm.IngestMemoryMap(info.MemoryMap, info.HHDMOffset)
	bootMemMap.Print()

	bootAlloc = pmm.NewBootMemAllocator(&bootMemMap)
	builder = vmm.NewBootstrapBuilder(info.HHDMOffset, &bootAlloc)

	stackTop := mapAddressSpace(info)

	mmWindow = pmm.ReserveWindow(&bootMemMap, &bootAlloc, mapBootPage)
	kfmt.Printf("memory map window: %d KiB at 0x%x\n", mmWindow.Size>>10, uintptr(mmWindow.Base))

	builder.Print()
	kfmt.Printf("%d frames used by the bootstrap allocator\n", bootAlloc.AllocCount())

	handoff(builder.Root(), stackTop, stage2)
}

func validate(info *Info) {
	if info.Revision < MinProtocolRevision {
		kfmt.Printf("protocol revision %d is not supported\n", info.Revision)
		panicFn(errUnsupportedRevision)
		return
	}

	if !mm.IsAligned(info.TextSize, mm.PageSize) || !mm.IsAligned(info.DataSize, mm.PageSize) ||
		!info.KernelPhys.IsAligned(mm.PageSize) || !info.KernelVirt.IsAligned(mm.PageSize) {
		panicFn(errMisalignedKernel)
		return
	}

	imageSize := info.TextSize + info.DataSize
	if !mm.KernelText.Contains(info.KernelVirt) || uintptr(mm.KernelText.Last()-info.KernelVirt)+1 < imageSize {
		panicFn(errKernelTooLarge)
		return
	}

	if info.StackSize == 0 {
		info.StackSize = DefaultStackSize
	}
	info.StackSize = mm.AlignUp(info.StackSize, mm.PageSize)
	if info.StackSize > mm.KernelStack.Size {
		panicFn(errStackTooLarge)
		return
	}
}

// mapAddressSpace installs all stage 1 mappings other than the memory map
// window and returns the top of the new stack.
func mapAddressSpace(info *Info) mm.VirtAddr {
	builder.MapRange(info.KernelVirt, info.KernelPhys, info.TextSize, vmm.FlagPresent)
	builder.MapRange(
		info.KernelVirt.Add(info.TextSize),
		info.KernelPhys+mm.PhysAddr(info.TextSize),
		info.DataSize,
		vmm.FlagRW|vmm.FlagNoExecute,
	)

	stackTop := mm.KernelStack.Last().Add(1)
	builder.MapFresh(mm.VirtAddrTruncate(uintptr(stackTop)-info.StackSize), info.StackSize, vmm.FlagRW|vmm.FlagNoExecute)

	builder.MapFresh(mm.KernelHeap.Base, HeapSeedSize, vmm.FlagRW|vmm.FlagNoExecute)

	storageBase, storageSize := bootMemMap.StorageRange()
	storageAlias, storageAliasSize = mm.MustVirtAddr(info.HHDMOffset+uintptr(storageBase)), storageSize
	builder.MapRange(storageAlias, storageBase, storageSize, vmm.FlagRW|vmm.FlagNoExecute)

	rsdpAddr = info.RSDPAddr
	if fb := info.Framebuffer; fb != nil {
		framebuffer, hasFramebuffer = *fb, true

		base := fb.PhysAddr.AlignDown(mm.PageSize)
		size := mm.AlignUp(uintptr(fb.PhysAddr-base)+fb.Size(), mm.PageSize)
		builder.MapRange(mm.FramebufferWindow.Base, base, size, vmm.FlagRW|vmm.FlagNoExecute|vmm.FlagDoNotCache)
		kfmt.Printf("framebuffer %dx%d at 0x%x\n", fb.Width, fb.Height, uintptr(fb.PhysAddr))
	}

	return stackTop
}

// mapBootPage is passed to pmm.ReserveWindow; a method value would make the
// builder escape.
func mapBootPage(page mm.Page, frame mm.Frame) *kernel.Error {
	return builder.MapPage(page, frame)
}
