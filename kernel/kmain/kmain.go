// Package kmain contains the kernel entrypoint invoked by the rt0 code.
package kmain

import (
	"efikernel/kernel"
	"efikernel/kernel/cpu"
	"efikernel/kernel/hal/efi"
	"efikernel/kernel/kfmt"
	"efikernel/kernel/mm"
	"efikernel/kernel/mm/pmm"
	"efikernel/kernel/mm/vmm"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	disableInterruptsFn = cpu.DisableInterrupts
	pmmInitFn           = pmm.Init
	vmmInitFn           = vmm.Init
	panicFn             = kfmt.Panic
)

// console forwards writes to the active kfmt output sink (or the early
// print buffer if no sink is attached yet).
type console struct{}

func (console) Write(p []byte) (int, error) {
	kfmt.Printf("%s", p)
	return len(p), nil
}

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after the EFI loader
// has called ExitBootServices and switched to the kernel stack.
//
// The rt0 code passes the address of the efi.BootInfo structure filled in by
// the loader. Physical memory is still identity-mapped at this point.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(bootInfoPtr uintptr) {
	disableInterruptsFn()

	efi.SetBootInfo(bootInfoPtr)
	efi.ActiveMemoryMap().Print(&kfmt.PrefixWriter{Sink: console{}, Prefix: []byte("[efi] ")})

	var err *kernel.Error
	if err = pmmInitFn(); err != nil {
		panicFn(err)
		return
	} else if err = vmmInitFn(); err != nil {
		panicFn(err)
		return
	}

	bootReport(&kfmt.PrefixWriter{Sink: console{}, Prefix: []byte("[kmain] ")})

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// bootReport prints the memory totals and allocates a test page to check
// that the frame allocator is live.
func bootReport(w *kfmt.PrefixWriter) {
	info := efi.ActiveMemoryMap().Info()
	kfmt.Fprintf(w, "system memory: %dKb\n", uint64(info.TotalBytes/mm.Kb))
	kfmt.Fprintf(w, "usable memory: %dKb\n", uint64(info.UsableBytes/mm.Kb))
	pmm.PrintStats(w)

	testFrame, err := mm.AllocFrame()
	if err != nil {
		kfmt.Fprintf(w, "test page allocation failed: %s\n", err.Message)
		return
	}
	kfmt.Fprintf(w, "test page address: 0x%x\n", uint64(testFrame.Address()))
	mm.FreeFrame(testFrame)
}
