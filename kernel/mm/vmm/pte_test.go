package vmm

import (
	"testing"

	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   PageTableEntry
		flag1 = PageTableEntryFlag(1 << 10)
		flag2 = PageTableEntryFlag(1 << 55)
	)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	pte.SetFlags(flag1 | flag2)

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pte.ClearFlags(flag1)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	pte.ClearFlags(flag1 | flag2)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}
}

func TestPageTableEntryBitLayout(t *testing.T) {
	specs := []struct {
		flag PageTableEntryFlag
		bit  uint
	}{
		{FlagPresent, 0},
		{FlagRW, 1},
		{FlagUserAccessible, 2},
		{FlagWriteThroughCaching, 3},
		{FlagDoNotCache, 4},
		{FlagAccessed, 5},
		{FlagDirty, 6},
		{FlagHugePage, 7},
		{FlagGlobal, 8},
		{FlagNoExecute, 63},
	}

	for specIndex, spec := range specs {
		if exp := PageTableEntryFlag(1) << spec.bit; spec.flag != exp {
			t.Errorf("[spec %d] expected flag value 0x%x; got 0x%x", specIndex, exp, spec.flag)
		}
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var (
		pte       PageTableEntry
		physFrame = mm.Frame(0x200)
	)

	pte.SetFlags(FlagPresent | FlagRW | FlagNoExecute)
	pte.SetFrame(physFrame)
	if got := pte.Frame(); got != physFrame {
		t.Fatalf("expected pte.Frame() to return %v; got %v", physFrame, got)
	}

	if exp, got := uint64(0x8000000000200003), uint64(pte); got != exp {
		t.Fatalf("expected raw entry 0x%x; got 0x%x", exp, got)
	}

	if exp, got := FlagPresent|FlagRW|FlagNoExecute, pte.Flags(); got != exp {
		t.Fatalf("expected flags 0x%x; got 0x%x", exp, got)
	}

	// replacing the frame keeps the flags
	pte.SetFrame(mm.Frame(0xffffffffff))
	if exp, got := uint64(0x800ffffffffff003), uint64(pte); got != exp {
		t.Fatalf("expected raw entry 0x%x; got 0x%x", exp, got)
	}
}

func TestPageTableEntrySetFrameOutOfRange(t *testing.T) {
	defer func() {
		if err := recover(); err != errFrameOutOfRange {
			t.Fatalf("expected panic with errFrameOutOfRange; got %v", err)
		}
	}()

	var pte PageTableEntry
	pte.SetFrame(mm.Frame(1 << 40))
}

func TestTableIndex(t *testing.T) {
	specs := []struct {
		virt   mm.VirtAddr
		expIdx [pageLevels]uintptr
		expOff uintptr
	}{
		{0, [pageLevels]uintptr{0, 0, 0, 0}, 0},
		{0xffff800000000000, [pageLevels]uintptr{256, 0, 0, 0}, 0},
		{0xffffffff80001234, [pageLevels]uintptr{511, 510, 0, 1}, 0x234},
		{0xffffff7fbfdfe000, [pageLevels]uintptr{510, 510, 510, 510}, 0},
		{0x0000000040201fff, [pageLevels]uintptr{0, 1, 1, 1}, 0xfff},
	}

	for specIndex, spec := range specs {
		for level := uint8(0); level < pageLevels; level++ {
			if got := TableIndex(spec.virt, level); got != spec.expIdx[level] {
				t.Errorf("[spec %d] expected level %d index to be %d; got %d", specIndex, level, spec.expIdx[level], got)
			}
		}

		if got := PageOffset(spec.virt); got != spec.expOff {
			t.Errorf("[spec %d] expected page offset 0x%x; got 0x%x", specIndex, spec.expOff, got)
		}
	}
}
