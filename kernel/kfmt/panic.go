package kfmt

import (
	"github.com/hxyulin/hadron-sub000/kernel"
	"github.com/hxyulin/hadron-sub000/kernel/cpu"
)

var (
	// cpuHaltFn is mocked by tests.
	cpuHaltFn = cpu.Halt

	// panicking is set while a report is being written. A fault raised by
	// the report itself must not print over it.
	panicking bool

	// diagnosticsFn, when set, runs between the error line and the halt
	// banner.
	diagnosticsFn func()
)

// SetPanicDiagnostics registers fn to be invoked by Panic after the cause of
// a panic has been printed, so that the caller can dump its own state. A nil
// fn removes the current hook.
func SetPanicDiagnostics(fn func()) {
	diagnosticsFn = fn
}

// Panic reports e to every attached console sink and halts the CPU; it never
// returns. e may be a *kernel.Error, an error, a string or nil. Values of
// any other type are reported without a cause.
//
// A Panic issued while another one is being reported halts immediately.
func Panic(e interface{}) {
	if panicking {
		cpuHaltFn()
		return
	}
	panicking = true

	var cause kernel.Error
	switch t := e.(type) {
	case *kernel.Error:
		if t != nil {
			cause = *t
		}
	case error:
		cause = kernel.Error{Module: "rt", Message: t.Error()}
	case string:
		cause = kernel.Error{Module: "rt", Message: t}
	}

	Printf("\n*** kernel panic ***\n")
	if cause.Message != "" {
		Printf("cause: [%s] %s\n", cause.Module, cause.Message)
	}

	if diagnosticsFn != nil {
		diagnosticsFn()
	}

	Printf("*** system halted ***\n")
	cpuHaltFn()

	// only reachable when cpuHaltFn is mocked
	panicking = false
}
