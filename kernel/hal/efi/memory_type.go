package efi

// MemoryType mirrors the UEFI EFI_MEMORY_TYPE enumeration.
type MemoryType uint32

// UEFI memory types. ConventionalMemory is the only type the frame
// allocator hands out.
const (
	ReservedMemoryType MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	ConventionalMemory
	UnusableMemory
	ACPIReclaimMemory
	ACPIMemoryNVS
	MemoryMappedIO
	MemoryMappedIOPortSpace
	PalCode
	PersistentMemory
	UnacceptedMemoryType
	maxMemoryType
)

var memoryTypeNames = [maxMemoryType]string{
	ReservedMemoryType:      "reserved",
	LoaderCode:              "loader code",
	LoaderData:              "loader data",
	BootServicesCode:        "boot services code",
	BootServicesData:        "boot services data",
	RuntimeServicesCode:     "runtime services code",
	RuntimeServicesData:     "runtime services data",
	ConventionalMemory:      "conventional",
	UnusableMemory:          "unusable",
	ACPIReclaimMemory:       "ACPI (reclaimable)",
	ACPIMemoryNVS:           "ACPI NVS",
	MemoryMappedIO:          "MMIO",
	MemoryMappedIOPortSpace: "MMIO port space",
	PalCode:                 "PAL code",
	PersistentMemory:        "persistent",
	UnacceptedMemoryType:    "unaccepted",
}

// String implements fmt.Stringer for MemoryType.
func (t MemoryType) String() string {
	if t >= maxMemoryType {
		return "unknown"
	}
	return memoryTypeNames[t]
}

// Usable returns true for memory that the kernel may allocate from.
func (t MemoryType) Usable() bool {
	return t == ConventionalMemory
}

// ParseMemoryType returns the MemoryType whose String() matches name.
func ParseMemoryType(name string) (MemoryType, bool) {
	for t, typeName := range memoryTypeNames {
		if typeName == name {
			return MemoryType(t), true
		}
	}
	return 0, false
}
