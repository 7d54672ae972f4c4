package vmm

const (
	// pageLevels is the depth of the amd64 paging hierarchy (P4, P3, P2, P1).
	pageLevels = 4

	// pageLevelBits is the number of virtual address bits consumed by
	// each level. A table therefore holds 1 << pageLevelBits entries.
	pageLevelBits = 9

	entriesPerTable = 1 << pageLevelBits

	// ptePhysPageMask selects bits 12-51 of an entry, which hold the
	// physical address of the next table or of the mapped frame.
	ptePhysPageMask = uintptr(0x000ffffffffff000)
)

// pageLevelShifts holds the position of the table index for each level
// within a virtual address, starting at P4.
var pageLevelShifts = [pageLevels]uint8{39, 30, 21, 12}

// Entry flags understood by the MMU.
const (
	FlagPresent PageTableEntryFlag = 1 << iota
	FlagRW
	FlagUserAccessible
	FlagWriteThroughCaching
	FlagDoNotCache

	// FlagAccessed and FlagDirty are maintained by the CPU.
	FlagAccessed
	FlagDirty

	// FlagHugePage marks a P3 or P2 entry that maps a 1G or 2M page
	// directly. AddressSpace only builds 4K mappings and rejects these.
	FlagHugePage

	// FlagGlobal keeps the TLB entry across CR3 reloads.
	FlagGlobal

	FlagNoExecute PageTableEntryFlag = 1 << 63
)
