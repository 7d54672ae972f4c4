package vmm

import (
	"efikernel/kernel"
	"efikernel/kernel/mm"
)

var (
	// allocFrameFn and freeFrameFn are mocked by tests and are
	// automatically inlined by the compiler.
	allocFrameFn = mm.AllocFrame
	freeFrameFn  = mm.FreeFrame

	errNoHugePageSupport           = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errAttemptToRWMapReservedFrame = &kernel.Error{Module: "vmm", Message: "reserved blank frame cannot be mapped with a RW flag"}
	errAddressSpaceReleased        = &kernel.Error{Module: "vmm", Message: "address space has been released"}
)

// AddressSpace is a 4-level amd64 page directory tree. Page tables are
// allocated from the physical frame allocator and accessed through the
// direct map, so an address space can be built and inspected before it is
// loaded into CR3.
type AddressSpace struct {
	root mm.Frame
}

// NewAddressSpace allocates and clears the top-level table of a new address
// space.
func NewAddressSpace() (*AddressSpace, *kernel.Error) {
	root, err := allocTable()
	if err != nil {
		return nil, err
	}

	return &AddressSpace{root: root}, nil
}

// Root returns the frame that holds the top-level page table.
func (as *AddressSpace) Root() mm.Frame {
	return as.root
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing intermediate tables are allocated via mm.AllocFrame and
// cleared. Any existing mapping for the page is overwritten.
//
// Attempts to map ReservedZeroedFrame with a RW flag will result in an error.
func (as *AddressSpace) Map(page mm.Page, frame mm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if !as.root.Valid() {
		return errAddressSpaceReleased
	}

	if protectReservedZeroedPage && frame == ReservedZeroedFrame && (flags&FlagRW) != 0 {
		return errAttemptToRWMapReservedFrame
	}

	var err *kernel.Error

	walk(as.root, page.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present.
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; allocate a cleared frame for it.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame mm.Frame
			if newTableFrame, err = allocTable(); err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW)
		}

		return true
	})

	return err
}

// MapRegion maps pageCount consecutive pages starting at startPage to the
// consecutive frames starting at startFrame.
func (as *AddressSpace) MapRegion(startPage mm.Page, startFrame mm.Frame, pageCount uint64, flags PageTableEntryFlag) *kernel.Error {
	for ; pageCount > 0; pageCount, startPage, startFrame = pageCount-1, startPage+1, startFrame+1 {
		if err := as.Map(startPage, startFrame, flags); err != nil {
			return err
		}
	}

	return nil
}

// Unmap removes a mapping previously installed via a call to Map. The
// mapped frame is not released; it belongs to the caller. Page tables that
// become empty are kept for future mappings.
func (as *AddressSpace) Unmap(page mm.Page) *kernel.Error {
	pte, err := as.pteForAddress(page.Address())
	if err != nil {
		return err
	}

	*pte = 0
	return nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := as.pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// Release returns every page table of the address space to the frame
// allocator. Frames mapped by the address space are not released.
func (as *AddressSpace) Release() {
	if !as.root.Valid() {
		return
	}

	releaseTable(as.root, 0)
	as.root = mm.InvalidFrame
}

// pteForAddress returns the final page table entry that correspond to a
// particular virtual address. The function performs a page table walk till it
// reaches the final page table entry returning ErrInvalidMapping if the page
// is not present.
func (as *AddressSpace) pteForAddress(virtAddr uintptr) (*pageTableEntry, *kernel.Error) {
	if !as.root.Valid() {
		return nil, errAddressSpaceReleased
	}

	var (
		err   *kernel.Error
		entry *pageTableEntry
	)

	walk(as.root, virtAddr, func(pteLevel uint8, pte *pageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			entry = nil
			err = ErrInvalidMapping
			return false
		}

		if pteLevel != pageLevels-1 && pte.HasFlags(FlagHugePage) {
			entry = nil
			err = errNoHugePageSupport
			return false
		}

		entry = pte
		return true
	})

	return entry, err
}

// allocTable allocates a frame for a page table and clears it.
func allocTable() (mm.Frame, *kernel.Error) {
	frame, err := allocFrameFn()
	if err != nil {
		return mm.InvalidFrame, err
	}

	kernel.Memset(mm.PhysToVirt(frame.Address()), 0, uintptr(mm.PageSize))
	return frame, nil
}

// releaseTable frees the tables referenced by the table in frame and then
// the frame itself. Entries of the last level point to mapped frames and are
// left alone.
func releaseTable(table mm.Frame, level uint8) {
	if level < pageLevels-1 {
		for index := uintptr(0); index < entriesPerTable; index++ {
			if pte := tableEntry(table, index); pte.HasFlags(FlagPresent) {
				releaseTable(pte.Frame(), level+1)
			}
		}
	}

	freeFrameFn(table)
}
