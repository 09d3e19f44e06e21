package mm

import "github.com/hxyulin/hadron-sub000/kernel"

var (
	// ErrNonCanonicalAddr is returned when a virtual address does not have
	// bits 48-63 set to copies of bit 47.
	ErrNonCanonicalAddr = &kernel.Error{Module: "mm", Message: "non-canonical virtual address"}

	// ErrPhysAddrTooLarge is returned for physical addresses that exceed
	// the 52-bit architectural limit.
	ErrPhysAddrTooLarge = &kernel.Error{Module: "mm", Message: "physical address exceeds 52 bits"}
)

// VirtAddr is a canonical virtual address. Values are only obtained through
// NewVirtAddr, VirtAddrTruncate or MustVirtAddr which guarantee that bits
// 48 to 63 are copies of bit 47.
type VirtAddr uintptr

// NewVirtAddr returns addr as a VirtAddr or ErrNonCanonicalAddr if addr is
// not canonical.
func NewVirtAddr(addr uintptr) (VirtAddr, *kernel.Error) {
	if VirtAddrTruncate(addr) != VirtAddr(addr) {
		return 0, ErrNonCanonicalAddr
	}
	return VirtAddr(addr), nil
}

// VirtAddrTruncate discards bits 48 to 63 of addr and replaces them with
// copies of bit 47.
func VirtAddrTruncate(addr uintptr) VirtAddr {
	const shift = 64 - virtAddrBits
	return VirtAddr(uintptr(int64(addr<<shift) >> shift))
}

// MustVirtAddr behaves like NewVirtAddr but panics if addr is not canonical.
func MustVirtAddr(addr uintptr) VirtAddr {
	v, err := NewVirtAddr(addr)
	if err != nil {
		panic(err)
	}
	return v
}

// Add returns v+offset. It panics if the result is not canonical.
func (v VirtAddr) Add(offset uintptr) VirtAddr {
	return MustVirtAddr(uintptr(v) + offset)
}

// AlignUp rounds v up to the next multiple of align, which must be a power
// of two. It panics if the result is not canonical.
func (v VirtAddr) AlignUp(align uintptr) VirtAddr {
	return MustVirtAddr(AlignUp(uintptr(v), align))
}

// AlignDown rounds v down to a multiple of align, which must be a power of
// two.
func (v VirtAddr) AlignDown(align uintptr) VirtAddr {
	return MustVirtAddr(AlignDown(uintptr(v), align))
}

// IsAligned returns true if v is a multiple of align.
func (v VirtAddr) IsAligned(align uintptr) bool {
	return IsAligned(uintptr(v), align)
}

// Page returns the page that contains v.
func (v VirtAddr) Page() Page {
	return PageFromAddress(uintptr(v))
}

// PhysAddr is a physical address below the 52-bit architectural limit.
type PhysAddr uintptr

// NewPhysAddr returns addr as a PhysAddr or ErrPhysAddrTooLarge if any bit
// above bit 51 is set.
func NewPhysAddr(addr uintptr) (PhysAddr, *kernel.Error) {
	if addr>>physAddrBits != 0 {
		return 0, ErrPhysAddrTooLarge
	}
	return PhysAddr(addr), nil
}

// AlignUp rounds p up to the next multiple of align.
func (p PhysAddr) AlignUp(align uintptr) PhysAddr {
	return PhysAddr(AlignUp(uintptr(p), align))
}

// AlignDown rounds p down to a multiple of align.
func (p PhysAddr) AlignDown(align uintptr) PhysAddr {
	return PhysAddr(AlignDown(uintptr(p), align))
}

// IsAligned returns true if p is a multiple of align.
func (p PhysAddr) IsAligned(align uintptr) bool {
	return IsAligned(uintptr(p), align)
}

// Frame returns the frame that contains p.
func (p PhysAddr) Frame() Frame {
	return FrameFromAddress(uintptr(p))
}

// AlignUp rounds addr up to a multiple of align (a power of two).
func AlignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// AlignDown rounds addr down to a multiple of align (a power of two).
func AlignDown(addr, align uintptr) uintptr {
	return addr &^ (align - 1)
}

// IsAligned returns true if addr is a multiple of align (a power of two).
func IsAligned(addr, align uintptr) bool {
	return addr&(align-1) == 0
}
