package boot

import (
	"github.com/hxyulin/hadron-sub000/kernel/kfmt"
)

var (
	// panicFn is mocked by tests; kfmt.Panic halts the CPU.
	panicFn = kfmt.Panic

	// stage names the boot step in progress for the panic report.
	stage string
)

// enterStage records name as the current boot step.
func enterStage(name string) {
	stage = name
}

// printStage is registered as the kfmt panic diagnostics hook.
func printStage() {
	kfmt.Printf("boot stage: %s\n", stage)
}

// reportFatal is deferred by both boot stages. Panics raised by the
// subsystems they drive are turned into kfmt.Panic calls so that the
// cause always reaches the console before the CPU halts.
func reportFatal() {
	if e := recover(); e != nil {
		panicFn(e)
	}
}
