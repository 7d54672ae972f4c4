// Package pmm contains the physical memory manager: a bitmap-backed frame
// allocator that bootstraps itself from the firmware memory map.
package pmm

import (
	"io"

	"efikernel/kernel"
	"efikernel/kernel/hal/efi"
	"efikernel/kernel/kfmt"
	"efikernel/kernel/mm"
)

var (
	// frameAllocator is the kernel-wide physical memory authority. It is
	// only reachable through the functions below.
	frameAllocator BitmapAllocator

	// activeMemoryMapFn is mocked by tests.
	activeMemoryMapFn = func() MemoryMap { return efi.ActiveMemoryMap() }
)

// Init bootstraps the kernel frame allocator from the memory map handed over
// by the firmware and registers it with the mm package so that the vmm can
// request frames.
func Init() *kernel.Error {
	if err := frameAllocator.Bootstrap(activeMemoryMapFn()); err != nil {
		return err
	}

	mm.SetFrameAllocator(AllocFrame)
	mm.SetFrameReleaser(FreeFrame)

	return nil
}

// AllocFrame reserves and returns a free physical frame.
func AllocFrame() (mm.Frame, *kernel.Error) {
	return frameAllocator.AllocFrame()
}

// FreeFrame returns a frame obtained via AllocFrame to the free pool.
func FreeFrame(frame mm.Frame) {
	frameAllocator.FreeFrame(frame)
}

// Lock marks count frames starting at start as used.
func Lock(start mm.Frame, count uint64) {
	frameAllocator.Lock(start, count)
}

// Reserve marks count frames starting at start as reserved.
func Reserve(start mm.Frame, count uint64) {
	frameAllocator.Reserve(start, count)
}

// Unreserve returns count reserved frames starting at start to the free pool.
func Unreserve(start mm.Frame, count uint64) {
	frameAllocator.Unreserve(start, count)
}

// Query returns the free, used and reserved memory in bytes.
func Query() (free, used, reserved mm.Size) {
	return frameAllocator.Query()
}

// PrintStats writes the allocator counters to w. Each line is tagged with
// the allocator module name.
func PrintStats(w io.Writer) {
	frameAllocator.PrintStats(&kfmt.PrefixWriter{Sink: w, Prefix: []byte("[pfa] ")})
}
