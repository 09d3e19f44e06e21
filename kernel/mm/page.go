package mm

import (
	"math"

	"github.com/hxyulin/hadron-sub000/kernel"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// VirtAddr returns the canonical virtual address of the page start.
func (p Page) VirtAddr() VirtAddr {
	return VirtAddrTruncate(p.Address())
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^(uintptr(PageSize - 1))) >> PageShift)
}

// SizeClass identifies one of the page sizes supported by 4-level paging.
type SizeClass uint8

const (
	Size4KiB SizeClass = iota
	Size2MiB
	Size1GiB
)

// Bytes returns the size in bytes of a page in this class.
func (s SizeClass) Bytes() uintptr {
	switch s {
	case Size2MiB:
		return 2 << 20
	case Size1GiB:
		return 1 << 30
	default:
		return PageSize
	}
}

// String implements fmt.Stringer.
func (s SizeClass) String() string {
	switch s {
	case Size2MiB:
		return "2MiB"
	case Size1GiB:
		return "1GiB"
	default:
		return "4KiB"
	}
}

var errMisalignedAddr = &kernel.Error{Module: "mm", Message: "address is not aligned to its page size class"}

// FrameAt returns the first 4KiB frame of the frame of class size starting
// at addr. It fails if addr is not a multiple of the class size.
func FrameAt(addr PhysAddr, size SizeClass) (Frame, *kernel.Error) {
	if !addr.IsAligned(size.Bytes()) {
		return InvalidFrame, errMisalignedAddr
	}
	return addr.Frame(), nil
}

// PageAt returns the first 4KiB page of the page of class size starting at
// addr. It fails if addr is not a multiple of the class size.
func PageAt(addr VirtAddr, size SizeClass) (Page, *kernel.Error) {
	if !addr.IsAligned(size.Bytes()) {
		return 0, errMisalignedAddr
	}
	return addr.Page(), nil
}

var (
	// frameAllocator and frameReleaser point to the functions registered
	// with SetFrameAllocator.
	frameAllocator FrameAllocatorFn
	frameReleaser  FrameReleaserFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// FrameReleaserFn is a function that returns a frame to the allocator it was
// obtained from.
type FrameReleaserFn func(Frame)

// SetFrameAllocator registers the functions that back AllocFrame and
// FreeFrame.
func SetFrameAllocator(allocFn FrameAllocatorFn, freeFn FrameReleaserFn) {
	frameAllocator = allocFn
	frameReleaser = freeFn
}

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}

// FreeFrame returns f to the currently active physical frame allocator. The
// caller must guarantee that f is no longer referenced.
func FreeFrame(f Frame) {
	if frameReleaser == nil {
		panic(errNoFrameAllocator)
	}
	frameReleaser(f)
}
