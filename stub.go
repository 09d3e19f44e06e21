package main

import (
	"github.com/hxyulin/hadron-sub000/kernel/boot"
	"github.com/hxyulin/hadron-sub000/kernel/kmain"
)

// bootInfo is filled in by the bootloader protocol glue before main runs.
var bootInfo boot.Info

// main is the Go symbol invoked by the entry code once the boot info has
// been collected. It hands the info to the boot sequence, which ends up in
// kmain.Kmain on the kernel stack.
//
// A global variable is passed as an argument to boot.Start to prevent the
// compiler from inlining the call and removing the kernel code from the
// generated object file.
//
// main is not expected to return.
func main() {
	boot.Start(&bootInfo, kmain.Kmain)
}
