package mm

// Window is a fixed range of the kernel's virtual address space reserved for
// a single purpose. The layout is shared by the boot-time and runtime page
// tables.
type Window struct {
	Name string
	Base VirtAddr
	Size uintptr
}

// Contains returns true if v lies inside the window.
func (w Window) Contains(v VirtAddr) bool {
	return v >= w.Base && uintptr(v-w.Base) < w.Size
}

// Last returns the address of the last byte inside the window.
func (w Window) Last() VirtAddr {
	return VirtAddr(uintptr(w.Base) + w.Size - 1)
}

// Overlaps returns true if the two windows share at least one address.
func (w Window) Overlaps(other Window) bool {
	return w.Base <= other.Last() && other.Base <= w.Last()
}

// The fixed kernel virtual memory layout. PageTables covers the 512GiB
// region exposed by the recursive entry in PML4 slot 510.
var (
	KernelHeap = Window{Name: "heap", Base: 0xffffc00000000000, Size: 64 << 30}

	KernelStack = Window{Name: "stack", Base: 0xffffc02000000000, Size: 2 << 30}

	FramebufferWindow = Window{Name: "framebuffer", Base: 0xffffd00000000000, Size: 16 << 40}

	MMIOSpace = Window{Name: "mmio", Base: 0xffffe00080000000, Size: 16 << 40}

	MemoryMappings = Window{Name: "memory-map", Base: 0xfffff80000000000, Size: 1 << 40}

	PageTables = Window{Name: "page-tables", Base: 0xffffff0000000000, Size: 512 << 30}

	KernelText = Window{Name: "kernel", Base: 0xffffffff80000000, Size: 2 << 30}
)

// Layout returns all reserved windows ordered by base address.
func Layout() [7]Window {
	return [7]Window{
		KernelHeap,
		KernelStack,
		FramebufferWindow,
		MMIOSpace,
		MemoryMappings,
		PageTables,
		KernelText,
	}
}
