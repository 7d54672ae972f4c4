package mm

import "unsafe"

// directMapOffset is added to a physical address to obtain the address at
// which the kernel can access it. UEFI hands over control with physical
// memory identity-mapped so the offset is zero on real hardware. Hosted
// tools set it to the base of the buffer that simulates physical RAM.
var directMapOffset uintptr

// SetDirectMapOffset sets the offset between physical addresses and the
// kernel-visible addresses that alias them.
func SetDirectMapOffset(offset uintptr) {
	directMapOffset = offset
}

// DirectMapOffset returns the offset set via SetDirectMapOffset.
func DirectMapOffset() uintptr {
	return directMapOffset
}

// PhysToVirt returns the kernel-visible address for a physical address.
func PhysToVirt(physAddr uintptr) uintptr {
	return physAddr + directMapOffset
}

// PhysMemory returns a byte slice overlaying size bytes of physical memory
// starting at physAddr.
func PhysMemory(physAddr uintptr, size Size) []byte {
	if size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(PhysToVirt(physAddr))), int(size))
}
