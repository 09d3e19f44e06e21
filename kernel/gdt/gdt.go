// Package gdt builds and loads the kernel global descriptor table together
// with the task state segment that provides the double fault stack.
package gdt

import (
	"encoding/binary"
	"unsafe"

	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/cpu"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
)

// Segment selectors for the descriptors installed by Init. The TSS
// descriptor is 16 bytes wide and occupies two table slots.
const (
	KernelCodeSelector uint16 = 0x08
	KernelDataSelector uint16 = 0x10
	TSSSelector        uint16 = 0x18

	// DoubleFaultIST is the interrupt stack table slot reserved for the
	// double fault handler.
	DoubleFaultIST = 1

	// DoubleFaultStackSize is the size of the stack switched to on a double
	// fault.
	DoubleFaultStackSize = 8 * 4096

	tableSlots = 5
	tssSize    = 104
)

// Access bytes and flag nibbles of the descriptors installed by Init.
const (
	AccessKernelCode uint8 = 0x9b // present, ring 0, code, readable, accessed
	AccessKernelData uint8 = 0x93 // present, ring 0, data, writable, accessed
	AccessTSS        uint8 = 0x89 // present, ring 0, available 64-bit TSS

	FlagGranularity uint8 = 1 << 3
	FlagSize32      uint8 = 1 << 2
	FlagLongMode    uint8 = 1 << 1
	FlagAvailable   uint8 = 1 << 0
)

var (
	errLimitTooLarge = &kernel.Error{Module: "gdt", Message: "segment limit does not fit in 20 bits"}
	errBadISTIndex   = &kernel.Error{Module: "gdt", Message: "interrupt stack table index must be in [1, 7]"}

	// The following functions are mocked by tests; the real ones fault in
	// user mode.
	loadGDTFn      = cpu.LoadGDT
	loadSegmentsFn = cpu.LoadSegments
	loadTSSFn      = cpu.LoadTSS

	table            [tableSlots]SegmentDescriptor
	gdtr             [10]byte
	tss              TaskStateSegment
	doubleFaultStack [DoubleFaultStackSize]byte
)

// SegmentDescriptor is a legacy 8-byte GDT entry:
//
//	bits  0-15  limit 0-15
//	bits 16-39  base 0-23
//	bits 40-47  access byte
//	bits 48-51  limit 16-19
//	bits 52-55  flags (AVL, L, D/B, G)
//	bits 56-63  base 24-31
type SegmentDescriptor uint64

// NewSegmentDescriptor encodes a descriptor. Only the low nibble of flags is
// used. limit is counted in 4KiB units when FlagGranularity is set.
func NewSegmentDescriptor(base, limit uint32, access, flags uint8) SegmentDescriptor {
	if limit >= 1<<20 {
		panic(errLimitTooLarge)
	}

	return SegmentDescriptor(uint64(limit&0xffff) |
		uint64(base&0xffffff)<<16 |
		uint64(access)<<40 |
		uint64(limit>>16)<<48 |
		uint64(flags&0xf)<<52 |
		uint64(base>>24)<<56)
}

// Base returns the 32-bit segment base.
func (d SegmentDescriptor) Base() uint32 {
	return uint32(d>>16)&0xffffff | uint32(d>>56)<<24
}

// Limit returns the 20-bit segment limit.
func (d SegmentDescriptor) Limit() uint32 {
	return uint32(d)&0xffff | uint32(d>>48)&0xf<<16
}

// Access returns the access byte.
func (d SegmentDescriptor) Access() uint8 {
	return uint8(d >> 40)
}

// Flags returns the flag nibble.
func (d SegmentDescriptor) Flags() uint8 {
	return uint8(d>>52) & 0xf
}

// Present returns true if the present bit of the access byte is set.
func (d SegmentDescriptor) Present() bool {
	return d.Access()&0x80 != 0
}

// NewTSSDescriptor encodes the two slots of a 64-bit TSS descriptor. The
// low slot has the legacy layout; the high slot holds bits 32-63 of base.
func NewTSSDescriptor(base uintptr, limit uint32) (low, high SegmentDescriptor) {
	low = NewSegmentDescriptor(uint32(base), limit, AccessTSS, 0)
	high = SegmentDescriptor(uint64(base) >> 32)
	return low, high
}

// TaskStateSegment is the 104-byte x86_64 TSS. Most 64-bit fields are not
// 8-byte aligned in hardware, so the segment is stored as 32-bit words.
type TaskStateSegment struct {
	words [tssSize / 4]uint32
}

func (t *TaskStateSegment) set64(word int, v uintptr) {
	t.words[word], t.words[word+1] = uint32(v), uint32(uint64(v)>>32)
}

func (t *TaskStateSegment) get64(word int) uintptr {
	return uintptr(uint64(t.words[word]) | uint64(t.words[word+1])<<32)
}

// SetRSP0 sets the stack loaded on a privilege change to ring 0.
func (t *TaskStateSegment) SetRSP0(top uintptr) { t.set64(1, top) }

// RSP0 returns the ring 0 stack.
func (t *TaskStateSegment) RSP0() uintptr { return t.get64(1) }

// SetIST sets entry n (1-7) of the interrupt stack table.
func (t *TaskStateSegment) SetIST(n int, top uintptr) {
	if n < 1 || n > 7 {
		panic(errBadISTIndex)
	}
	t.set64(9+2*(n-1), top)
}

// IST returns entry n (1-7) of the interrupt stack table.
func (t *TaskStateSegment) IST(n int) uintptr {
	if n < 1 || n > 7 {
		panic(errBadISTIndex)
	}
	return t.get64(9 + 2*(n-1))
}

// SetIOMapBase sets the offset of the I/O permission bitmap. An offset equal
// to the segment size means there is no bitmap.
func (t *TaskStateSegment) SetIOMapBase(off uint16) {
	t.words[25] = t.words[25]&0xffff | uint32(off)<<16
}

// IOMapBase returns the offset of the I/O permission bitmap.
func (t *TaskStateSegment) IOMapBase() uint16 {
	return uint16(t.words[25] >> 16)
}

// Init fills in the TSS and the descriptor table, loads both and reloads
// every segment register other than FS and GS. It must run before the
// interrupt descriptor table refers to DoubleFaultIST.
func Init() {
	tss = TaskStateSegment{}
	tss.SetIST(DoubleFaultIST, uintptr(unsafe.Pointer(&doubleFaultStack[0]))+DoubleFaultStackSize)
	tss.SetIOMapBase(tssSize)

	table = [tableSlots]SegmentDescriptor{
		0,
		NewSegmentDescriptor(0, 0xfffff, AccessKernelCode, FlagGranularity|FlagLongMode),
		NewSegmentDescriptor(0, 0xfffff, AccessKernelData, FlagGranularity|FlagSize32),
	}
	table[TSSSelector>>3], table[TSSSelector>>3+1] = NewTSSDescriptor(uintptr(unsafe.Pointer(&tss)), tssSize-1)

	binary.LittleEndian.PutUint16(gdtr[0:], uint16(unsafe.Sizeof(table)-1))
	binary.LittleEndian.PutUint64(gdtr[2:], uint64(uintptr(unsafe.Pointer(&table))))

	loadGDTFn(uintptr(unsafe.Pointer(&gdtr)))
	loadSegmentsFn(KernelCodeSelector, KernelDataSelector)
	loadTSSFn(TSSSelector)

	kfmt.Printf("[gdt] %d entries at 0x%x, double fault stack 0x%x\n",
		tableSlots, uintptr(unsafe.Pointer(&table)), tss.IST(DoubleFaultIST))
}
