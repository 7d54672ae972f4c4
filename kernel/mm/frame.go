// Package mm contains the types shared by the physical and virtual memory
// managers: frame and page indices, sizes and the direct map used to reach
// physical memory.
package mm

import (
	"math"

	"efikernel/kernel"
)

// Frame describes a physical memory page index. Frame(n) covers the
// physical addresses [n*PageSize, (n+1)*PageSize).
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f) << PageShift
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Addresses that are not page-aligned are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame(physAddr >> PageShift)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p) << PageShift
}

// PageFromAddress returns the Page that contains the given virtual address.
// Addresses that are not page-aligned are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page(virtAddr >> PageShift)
}

var (
	// frameAllocator and frameReleaser point to the functions registered
	// by the active physical frame allocator.
	frameAllocator FrameAllocatorFn
	frameReleaser  FrameReleaserFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
)

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// FrameReleaserFn is a function that returns a physical frame obtained via
// a FrameAllocatorFn.
type FrameReleaserFn func(Frame)

// SetFrameAllocator registers a frame allocator function that will be used by
// the vmm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// SetFrameReleaser registers the function used by FreeFrame.
func SetFrameReleaser(freeFn FrameReleaserFn) { frameReleaser = freeFn }

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}

// FreeFrame releases a frame obtained via AllocFrame. It is a no-op when no
// releaser is registered.
func FreeFrame(frame Frame) {
	if frameReleaser != nil {
		frameReleaser(frame)
	}
}
