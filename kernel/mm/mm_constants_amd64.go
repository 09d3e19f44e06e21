package mm

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = uintptr(3)

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)

	// virtAddrBits is the number of implemented virtual address bits with
	// 4-level paging.
	virtAddrBits = 48

	// physAddrBits is the architectural limit for physical addresses.
	physAddrBits = 52

	// LowMemoryCeiling is the upper bound for frames that early boot
	// structures are allocated from.
	LowMemoryCeiling = uintptr(4 << 30)
)
