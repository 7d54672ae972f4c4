// Package efi exposes the firmware-provided boot information, most notably
// the UEFI memory map, to the rest of the kernel.
package efi

import "unsafe"

// BootInfo is the structure the bootloader passes to the kernel entrypoint
// after calling ExitBootServices.
type BootInfo struct {
	// MemoryMap points to the buffer filled by GetMemoryMap.
	MemoryMap uintptr

	// MemoryMapSize is the size of the MemoryMap buffer in bytes.
	MemoryMapSize uint64

	// DescriptorSize is the stride between two descriptors.
	DescriptorSize uint64
}

var activeMemoryMap MemoryMap

// SetBootInfo parses the BootInfo at the supplied address. This function
// must be invoked before ActiveMemoryMap.
func SetBootInfo(bootInfoPtr uintptr) {
	info := (*BootInfo)(unsafe.Pointer(bootInfoPtr))
	activeMemoryMap = MemoryMapAt(info.MemoryMap, info.MemoryMapSize, info.DescriptorSize)
}

// ActiveMemoryMap returns the memory map registered via SetBootInfo.
func ActiveMemoryMap() MemoryMap {
	return activeMemoryMap
}
