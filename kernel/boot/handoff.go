package boot

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/cpu"
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
	"github.com/hxyulin/hadron-sub000/kernel/mm"
)

var (
	errHandoffNoRoot      = &kernel.Error{Module: "boot", Message: "handoff without a page table"}
	errHandoffNoStack     = &kernel.Error{Module: "boot", Message: "handoff stack is not mapped"}
	errHandoffNoEntry     = &kernel.Error{Module: "boot", Message: "handoff without a stage 2 entry point"}
	errHandoffReturned    = &kernel.Error{Module: "boot", Message: "returned from handoff"}
	errKernelMainReturned = &kernel.Error{Module: "boot", Message: "kernel main returned"}

	// switchStackFn is used by tests to override calls to cpu.SwitchStack
	// which will cause a fault if called in user-mode.
	switchStackFn = cpu.SwitchStack
)

// handoff activates the page table rooted at root, moves the stack pointer to
// stackTop and jumps to entry. All preconditions are checked before touching
// the CPU state; a violation is reported through panicFn. handoff never
// returns.
func handoff(root mm.Frame, stackTop mm.VirtAddr, entry func()) {
	if !root.Valid() || root == 0 {
		panicFn(errHandoffNoRoot)
		return
	}

	if entry == nil {
		panicFn(errHandoffNoEntry)
		return
	}

	// the zero return address pushed by SwitchStack goes right below the top
	if _, err := builder.Translate(stackTop - 8); err != nil || !stackTop.IsAligned(16) {
		panicFn(errHandoffNoStack)
		return
	}

	kfmt.Printf("switching to PML4 0x%x, stack top 0x%x\n", root.Address(), uintptr(stackTop))
	switchStackFn(root.Address(), uintptr(stackTop), entry)

	// only reachable if SwitchStack is mocked out
	panicFn(errHandoffReturned)
}
