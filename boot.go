package main

import "efikernel/kernel/kmain"

// bootInfoPtr is filled in by the rt0 code with the address of the
// efi.BootInfo structure passed by the loader.
var bootInfoPtr uintptr

// main is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function works as a trampoline for calling the actual kernel entrypoint
// (kmain.Kmain) and its intentionally defined to prevent the Go compiler from
// optimizing away the actual kernel code as its not aware of the presence of the
// rt0 code.
//
// A global variable is passed as an argument to Kmain to prevent the compiler
// from inlining the actual call and removing Kmain from the generated .o file.
//
// main is not expected to return. If it does, the rt0 code will halt the CPU.
func main() {
	kmain.Kmain(bootInfoPtr)
}
