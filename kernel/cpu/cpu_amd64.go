// Package cpu exposes the handful of privileged x86_64 instructions that the
// memory subsystem depends on.
package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt disables interrupts and stops instruction execution. Halt never
// returns.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// SwitchStack loads pdtPhysAddr into CR3, points the stack pointer at
// stackTop, pushes a zero return address and jumps to entry. The previous
// stack and page tables are abandoned and SwitchStack never returns.
func SwitchStack(pdtPhysAddr, stackTop uintptr, entry func())

// LoadGDT executes LGDT with the 10-byte descriptor table register image
// stored at gdtrAddr.
func LoadGDT(gdtrAddr uintptr)

// LoadSegments loads data into DS, ES and SS and reloads CS with code through
// a far return. FS and GS are left untouched.
func LoadSegments(code, data uint16)

// LoadTSS loads the task register with the TSS selector sel.
func LoadTSS(sel uint16)

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// PortWriteByte writes a uint8 value to the requested I/O port.
func PortWriteByte(port uint16, val uint8)

// PortReadByte reads a uint8 value from the requested I/O port.
func PortReadByte(port uint16) uint8

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// HasNX returns true if the CPU honours the no-execute page table flag.
func HasNX() bool {
	return extFeatureBit(20)
}

// Has1GiBPages returns true if the CPU supports 1GiB pages.
func Has1GiBPages() bool {
	return extFeatureBit(26)
}

// extFeatureBit tests a bit of EDX as reported by the 0x80000001 leaf.
func extFeatureBit(bit uint32) bool {
	if maxLeaf, _, _, _ := cpuidFn(0x80000000); maxLeaf < 0x80000001 {
		return false
	}

	_, _, _, edx := cpuidFn(0x80000001)
	return edx&(1<<bit) != 0
}
