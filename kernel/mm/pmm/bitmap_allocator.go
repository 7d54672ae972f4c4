package pmm

import (
	"io"

	"efikernel/kernel"
	"efikernel/kernel/kfmt"
	"efikernel/kernel/mm"
	"efikernel/kernel/mm/bitmap"
	"efikernel/kernel/sync"
)

var (
	// ErrOutOfMemory is returned by AllocFrame when every frame is either
	// used or reserved. There is no backing store to fall back to.
	ErrOutOfMemory = &kernel.Error{Module: "pfa", Message: "out of memory"}

	errNotInitialized = &kernel.Error{Module: "pfa", Message: "allocator function called before initialization"}

	// panicFn is mocked by tests and is automatically inlined by the compiler.
	panicFn = kfmt.Panic
)

// initState tracks how far the allocator has progressed through its
// bootstrap sequence. It only ever moves forward.
type initState uint8

const (
	stateUninitialized initState = iota
	stateBitmapPlaced
	stateMapReserved
)

// markOp selects how markFrames updates a frame and the byte counters.
type markOp uint8

const (
	// opReserve marks a free frame as permanently unavailable.
	opReserve markOp = iota

	// opUnreserve returns a reserved frame to the free pool.
	opUnreserve

	// opLock marks a free frame as used by the kernel.
	opLock

	// opFree returns a used frame to the free pool.
	opFree
)

// BitmapAllocator implements a physical frame allocator that tracks every
// frame of the machine with one bit. A set bit means that the frame is not
// free; whether it is used or reserved is only reflected by the byte
// counters.
//
// The counters always satisfy:
//
//	freeBytes + usedBytes + reservedBytes == total bytes in the memory map
//
// since every state change moves exactly one page worth of bytes between two
// of them.
type BitmapAllocator struct {
	mutex sync.Spinlock

	state initState

	freeBytes     mm.Size
	usedBytes     mm.Size
	reservedBytes mm.Size

	// totalFrames is the number of frames covered by the accounting. Bits
	// past it only exist because the bitmap is sized in whole bytes and are
	// kept set.
	totalFrames uint64

	// searchCursor is the frame where AllocFrame starts scanning. Frames
	// below it are known to be non-free unless Free or Unreserve moved it
	// back.
	searchCursor mm.Frame

	bitmap       bitmap.Bitmap
	bitmapRegion mm.Frame

	// ignoredOps counts per-frame requests that were dropped: marking a
	// frame that is already non-free, releasing a free frame or touching a
	// frame past the end of the bitmap.
	ignoredOps uint64
}

// Reserve flags count frames starting at start as reserved. Frames that are
// already non-free are skipped so overlapping firmware regions do not skew
// the accounting.
func (alloc *BitmapAllocator) Reserve(start mm.Frame, count uint64) {
	alloc.mutex.Acquire()
	alloc.markFrames(start, count, opReserve)
	alloc.mutex.Release()
}

// Unreserve returns count reserved frames starting at start to the free
// pool.
func (alloc *BitmapAllocator) Unreserve(start mm.Frame, count uint64) {
	alloc.mutex.Acquire()
	alloc.markFrames(start, count, opUnreserve)
	alloc.mutex.Release()
}

// Lock flags count frames starting at start as used. It is used to claim
// frames whose location is dictated by something other than AllocFrame.
func (alloc *BitmapAllocator) Lock(start mm.Frame, count uint64) {
	alloc.mutex.Acquire()
	alloc.markFrames(start, count, opLock)
	alloc.mutex.Release()
}

// Free releases count used frames starting at start.
func (alloc *BitmapAllocator) Free(start mm.Frame, count uint64) {
	alloc.mutex.Acquire()
	alloc.markFrames(start, count, opFree)
	alloc.mutex.Release()
}

// FreeFrame releases a single frame obtained via AllocFrame.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) {
	alloc.Free(frame, 1)
}

// AllocFrame locks and returns the lowest free frame at or after the search
// cursor. The cursor is left pointing at the returned frame. If no free frame
// exists, AllocFrame returns ErrOutOfMemory and leaves the counters
// untouched.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.mutex.Acquire()
	defer alloc.mutex.Release()

	if alloc.state < stateBitmapPlaced {
		panicFn(errNotInitialized)
		return mm.InvalidFrame, errNotInitialized
	}

	for bitCount := alloc.bitmap.Len(); uint64(alloc.searchCursor) < bitCount; alloc.searchCursor++ {
		if nonFree, _ := alloc.bitmap.Get(uint64(alloc.searchCursor)); nonFree {
			continue
		}

		alloc.markFrame(alloc.searchCursor, opLock)
		return alloc.searchCursor, nil
	}

	return mm.InvalidFrame, ErrOutOfMemory
}

// Query returns the number of free, used and reserved bytes.
func (alloc *BitmapAllocator) Query() (free, used, reserved mm.Size) {
	alloc.mutex.Acquire()
	free, used, reserved = alloc.freeBytes, alloc.usedBytes, alloc.reservedBytes
	alloc.mutex.Release()
	return free, used, reserved
}

// TotalBytes returns the amount of memory tracked by the allocator.
func (alloc *BitmapAllocator) TotalBytes() mm.Size {
	return mm.Size(alloc.totalFrames) << mm.PageShift
}

// IgnoredOps returns the number of per-frame operations that were dropped
// because they would not change the frame state.
func (alloc *BitmapAllocator) IgnoredOps() uint64 {
	alloc.mutex.Acquire()
	ignored := alloc.ignoredOps
	alloc.mutex.Release()
	return ignored
}

// BitmapRegion returns the first frame and the frame count of the memory
// that holds the allocator bitmap.
func (alloc *BitmapAllocator) BitmapRegion() (mm.Frame, uint64) {
	return alloc.bitmapRegion, alloc.bitmap.Size().Pages()
}

// PrintStats writes the allocator counters to w.
func (alloc *BitmapAllocator) PrintStats(w io.Writer) {
	alloc.mutex.Acquire()
	free, used, reserved, ignored := alloc.freeBytes, alloc.usedBytes, alloc.reservedBytes, alloc.ignoredOps
	alloc.mutex.Release()

	kfmt.Fprintf(w, "free memory: %d bytes (%d pages)\n", uint64(free), uint64(free>>mm.PageShift))
	kfmt.Fprintf(w, "used memory: %d bytes (%d pages)\n", uint64(used), uint64(used>>mm.PageShift))
	kfmt.Fprintf(w, "reserved memory: %d bytes (%d pages)\n", uint64(reserved), uint64(reserved>>mm.PageShift))
	if ignored != 0 {
		kfmt.Fprintf(w, "ignored frame operations: %d\n", ignored)
	}
}

// markFrames applies op to count frames starting at start. Calling it before
// the bitmap is placed is a boot-order bug and triggers a kernel panic.
// Frames past the end of the bitmap are counted as ignored without being
// visited.
func (alloc *BitmapAllocator) markFrames(start mm.Frame, count uint64, op markOp) {
	if alloc.state < stateBitmapPlaced {
		panicFn(errNotInitialized)
		return
	}

	inRange := uint64(0)
	if uint64(start) < alloc.totalFrames {
		inRange = alloc.totalFrames - uint64(start)
	}
	if inRange > count {
		inRange = count
	}
	alloc.ignoredOps += count - inRange

	for frame, last := start, start+mm.Frame(inRange); frame < last; frame++ {
		alloc.markFrame(frame, op)
	}
}

// markFrame applies op to a single frame that is known to be in range.
func (alloc *BitmapAllocator) markFrame(frame mm.Frame, op markOp) {
	nonFree, _ := alloc.bitmap.Get(uint64(frame))

	switch op {
	case opReserve, opLock:
		if nonFree {
			alloc.ignoredOps++
			return
		}

		_ = alloc.bitmap.Set(uint64(frame), true)
		alloc.freeBytes -= mm.PageSize
		if op == opReserve {
			alloc.reservedBytes += mm.PageSize
		} else {
			alloc.usedBytes += mm.PageSize
		}
	case opUnreserve, opFree:
		counter := &alloc.usedBytes
		if op == opUnreserve {
			counter = &alloc.reservedBytes
		}

		// A set bit does not record whether the frame was reserved or
		// used; never let the counter being debited wrap around.
		if !nonFree || *counter < mm.PageSize {
			alloc.ignoredOps++
			return
		}

		_ = alloc.bitmap.Set(uint64(frame), false)
		alloc.freeBytes += mm.PageSize
		*counter -= mm.PageSize

		if frame < alloc.searchCursor {
			alloc.searchCursor = frame
		}
	}
}
