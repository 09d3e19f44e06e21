package pmm

import "github.com/hxyulin/hadron-sub000/kernel/mm"

// RegionType classifies a physical memory range reported by the bootloader.
type RegionType uint32

const (
	// Usable memory can be handed out by the frame allocators.
	Usable RegionType = iota

	// Reserved memory must not be touched.
	Reserved

	// AcpiReclaimable memory holds ACPI tables and becomes usable once
	// they have been parsed.
	AcpiReclaimable

	// AcpiNvs memory must be preserved across sleep states.
	AcpiNvs

	// BadMemory contains defective RAM.
	BadMemory

	// BootloaderReclaimable memory is used by the bootloader and the
	// boot-time structures; it is reclaimed once the kernel runs on its
	// own page tables.
	BootloaderReclaimable

	// KernelAndModules holds the loaded kernel image and boot modules.
	KernelAndModules

	// Framebuffer memory backs the boot framebuffer.
	Framebuffer

	// Allocated marks a bootstrap entry whose frames have all been
	// handed out by the BootMemAllocator.
	Allocated RegionType = 0x100
)

// String implements fmt.Stringer for RegionType.
func (t RegionType) String() string {
	switch t {
	case Usable:
		return "usable"
	case Reserved:
		return "reserved"
	case AcpiReclaimable:
		return "ACPI (reclaimable)"
	case AcpiNvs:
		return "ACPI NVS"
	case BadMemory:
		return "bad memory"
	case BootloaderReclaimable:
		return "bootloader (reclaimable)"
	case KernelAndModules:
		return "kernel/modules"
	case Framebuffer:
		return "framebuffer"
	case Allocated:
		return "allocated"
	default:
		return "unknown"
	}
}

// special returns true for the region types that the runtime memory map
// tracks outside of the general allocation pool.
func (t RegionType) special() bool {
	switch t {
	case BootloaderReclaimable, KernelAndModules, Framebuffer, AcpiReclaimable, AcpiNvs:
		return true
	}
	return false
}

// MemoryMapEntry describes a physical memory range and its type.
type MemoryMapEntry struct {
	Base   mm.PhysAddr
	Length uint64
	Type   RegionType
}

// End returns the first address past the entry.
func (e MemoryMapEntry) End() mm.PhysAddr {
	return e.Base + mm.PhysAddr(e.Length)
}

// innerFrames returns the first frame and the number of frames fully
// contained in the entry.
func (e MemoryMapEntry) innerFrames() (mm.Frame, uint64) {
	start := e.Base.AlignUp(mm.PageSize)
	end := e.End().AlignDown(mm.PageSize)
	if end <= start {
		return start.Frame(), 0
	}
	return start.Frame(), uint64(end-start) >> mm.PageShift
}
