package mm

import "testing"

func TestLayoutWindows(t *testing.T) {
	layout := Layout()

	for i, w := range layout {
		if _, err := NewVirtAddr(uintptr(w.Base)); err != nil {
			t.Errorf("[%s] base 0x%x is not canonical", w.Name, w.Base)
		}

		if _, err := NewVirtAddr(uintptr(w.Last())); err != nil {
			t.Errorf("[%s] last address 0x%x is not canonical", w.Name, w.Last())
		}

		if !w.Base.IsAligned(PageSize) || w.Size%PageSize != 0 {
			t.Errorf("[%s] window is not page aligned", w.Name)
		}

		if i > 0 && layout[i-1].Base >= w.Base {
			t.Errorf("[%s] expected windows to be sorted by base address", w.Name)
		}

		for j := i + 1; j < len(layout); j++ {
			if w.Overlaps(layout[j]) {
				t.Errorf("window %s overlaps window %s", w.Name, layout[j].Name)
			}
		}
	}
}

func TestPageTablesWindowMatchesRecursiveSlot(t *testing.T) {
	const recursiveSlot = 510

	if got := (uintptr(PageTables.Base) >> 39) & 511; got != recursiveSlot {
		t.Fatalf("expected page table window to start at PML4 slot %d; got %d", recursiveSlot, got)
	}

	if PageTables.Size != 1<<39 {
		t.Fatalf("expected page table window to span one PML4 slot")
	}
}

func TestWindowContains(t *testing.T) {
	if !KernelText.Contains(0xffffffffffffffff) {
		t.Error("expected kernel window to contain the last address")
	}

	if KernelHeap.Contains(KernelHeap.Base + VirtAddr(KernelHeap.Size)) {
		t.Error("expected heap window to exclude its end address")
	}

	if !KernelHeap.Contains(KernelHeap.Base) {
		t.Error("expected heap window to contain its base")
	}
}
