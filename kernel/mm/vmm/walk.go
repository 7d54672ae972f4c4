package vmm

import (
	"unsafe"

	"efikernel/kernel/mm"
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *pageTableEntry) bool

// tableEntry returns a pointer to the entry at index in the page table
// stored in the supplied frame. Tables are reached through the direct map.
func tableEntry(table mm.Frame, index uintptr) *pageTableEntry {
	return (*pageTableEntry)(unsafe.Pointer(mm.PhysToVirt(table.Address()) + (index << mm.PointerShift)))
}

// walk performs a page table walk for the given virtual address starting at
// the top-level table stored in root. It calls the suppplied walkFn with the
// page table entry that corresponds to each page table level. The walk
// descends into the table pointed to by each entry so walkFn must populate
// missing tables or abort the walk by returning false.
func walk(root mm.Frame, virtAddr uintptr, walkFn pageTableWalker) {
	table := root
	for level := uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex := (virtAddr >> pageLevelShifts[level]) & (entriesPerTable - 1)

		pte := tableEntry(table, entryIndex)
		if !walkFn(level, pte) {
			return
		}

		table = pte.Frame()
	}
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return (virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1))
}
