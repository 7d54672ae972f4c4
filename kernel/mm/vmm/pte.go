package vmm

import (
	"efikernel/kernel"
	"efikernel/kernel/mm"
)

var (
	// ErrInvalidMapping is returned when a virtual address has no
	// present mapping.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// PageTableEntryFlag is a bit in a page table entry.
type PageTableEntryFlag uintptr

// pageTableEntry is a raw amd64 page table entry: a physical frame address
// in bits 12-51 combined with PageTableEntryFlag bits.
type pageTableEntry uintptr

// HasFlags returns true if every bit of flags is set.
func (pte pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uintptr(pte)&uintptr(flags) == uintptr(flags)
}

// HasAnyFlag returns true if at least one bit of flags is set.
func (pte pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return uintptr(pte)&uintptr(flags) != 0
}

func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte |= pageTableEntry(flags)
}

func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte &^= pageTableEntry(flags)
}

// Frame returns the frame referenced by the entry.
func (pte pageTableEntry) Frame() mm.Frame {
	return mm.FrameFromAddress(uintptr(pte) & ptePhysPageMask)
}

// SetFrame points the entry at frame, keeping its flags.
func (pte *pageTableEntry) SetFrame(frame mm.Frame) {
	*pte = pageTableEntry(uintptr(*pte)&^ptePhysPageMask | frame.Address()&ptePhysPageMask)
}
