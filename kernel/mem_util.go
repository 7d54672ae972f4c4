package kernel

import "unsafe"

// Memset sets size bytes at the given address to the supplied value. Instead
// of writing one byte at a time, it sets the first byte and then doubles the
// initialized block with log2(size) copy calls. Callers pass kernel-visible
// addresses; physical addresses must go through mm.PhysToVirt first.
func Memset(addr uintptr, value byte, size uintptr) {
	if size == 0 {
		return
	}

	target := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)

	target[0] = value
	for filled := uintptr(1); filled < size; filled *= 2 {
		copy(target[filled:], target[:filled])
	}
}
