// Package boot takes the kernel from the bootloader hand-off to a fully
// self-hosted address space with a runtime frame allocator, page table and
// heap.
package boot

import (
	"github.com/hxyulin/hadron-sub000/kernel/mm"
	"github.com/hxyulin/hadron-sub000/kernel/mm/pmm"
)

const (
	// MinProtocolRevision is the oldest boot protocol revision the kernel
	// can run on.
	MinProtocolRevision = 1

	// HeapSeedSize is the amount of heap memory mapped before the handoff.
	HeapSeedSize = 512 * 1024

	// DefaultStackSize is used when the boot info does not request a stack
	// size.
	DefaultStackSize = 64 * 1024
)

// MemoryRecord is a memory map entry as reported by the bootloader.
type MemoryRecord = pmm.MemoryMapEntry

// FramebufferInfo describes a linear framebuffer set up by the bootloader.
type FramebufferInfo struct {
	PhysAddr mm.PhysAddr
	Width    uint32
	Height   uint32
	Pitch    uint32
	Bpp      uint8
}

// Size returns the number of bytes spanned by the framebuffer.
func (fb *FramebufferInfo) Size() uintptr {
	return uintptr(fb.Pitch) * uintptr(fb.Height)
}

// Info collects everything the bootloader tells the kernel. The slices and
// pointers it holds refer to bootloader memory reached through the HHDM and
// are only valid before the handoff.
type Info struct {
	// Revision is the boot protocol revision in use.
	Revision uint64

	// HHDMOffset is the virtual address at which all physical memory is
	// mapped.
	HHDMOffset uintptr

	// KernelPhys and KernelVirt are the load addresses of the kernel image.
	KernelPhys mm.PhysAddr
	KernelVirt mm.VirtAddr

	// TextSize and DataSize are the page-aligned sizes of the executable
	// and writable parts of the image. Data follows text.
	TextSize uintptr
	DataSize uintptr

	// StackSize is the size of the kernel stack to set up.
	StackSize uintptr

	// RSDPAddr is the physical address of the ACPI RSDP, or 0.
	RSDPAddr mm.PhysAddr

	MemoryMap   []MemoryRecord
	Framebuffer *FramebufferInfo
}

// Params is passed to the kernel main function once the memory subsystem is
// up.
type Params struct {
	RSDPAddr    mm.PhysAddr
	Framebuffer *FramebufferInfo
}
