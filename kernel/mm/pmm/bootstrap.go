package pmm

import (
	"efikernel/kernel"
	"efikernel/kernel/hal/efi"
	"efikernel/kernel/mm"
	"efikernel/kernel/mm/bitmap"
)

var (
	errAllocatorReinit       = &kernel.Error{Module: "pfa", Message: "allocator tried to reinitialize page bitmap"}
	errBitmapSegmentTooSmall = &kernel.Error{Module: "pfa", Message: "memory segment too small to hold the page bitmap"}
)

// MemoryMap is the view of the firmware memory map needed to bootstrap the
// allocator. efi.MemoryMap implements it.
type MemoryMap interface {
	// Info returns the total memory size and the segment that will host
	// the bitmap.
	Info() efi.MemoryInfo

	// VisitMemDescriptors invokes visitor for each firmware descriptor.
	VisitMemDescriptors(visitor efi.MemDescriptorVisitor)
}

// Bootstrap brings the allocator to life using the supplied memory map. It
// runs three steps in a fixed order:
//   - place the bitmap in the largest usable segment and clear it
//   - lock the frames that back the bitmap
//   - reserve the frames of every descriptor that is not conventional memory
//
// The bitmap lives inside the memory it tracks so all three steps run with
// the allocator lock held. Calling Bootstrap more than once triggers a
// kernel panic.
func (alloc *BitmapAllocator) Bootstrap(memMap MemoryMap) *kernel.Error {
	alloc.mutex.Acquire()
	if alloc.state != stateUninitialized {
		alloc.mutex.Release()
		panicFn(errAllocatorReinit)
		return errAllocatorReinit
	}

	defer alloc.mutex.Release()

	info := memMap.Info()
	if err := alloc.placeBitmap(info.TotalBytes, info.LargestUsable); err != nil {
		return err
	}

	alloc.markFrames(alloc.bitmapRegion, alloc.bitmap.Size().Pages(), opLock)

	memMap.VisitMemDescriptors(func(desc *efi.MemoryDescriptor) bool {
		if !desc.Type.Usable() {
			alloc.markFrames(
				mm.FrameFromAddress(uintptr(desc.PhysicalStart)),
				desc.NumberOfPages,
				opReserve,
			)
		}
		return true
	})

	alloc.state = stateMapReserved
	return nil
}

// placeBitmap sizes the bitmap for totalBytes of memory, clears it in place
// at the start of segment and accounts all memory as free. The bits that
// only exist because the bitmap is rounded up to whole bytes are set so
// AllocFrame never hands out frames that do not exist.
func (alloc *BitmapAllocator) placeBitmap(totalBytes mm.Size, segment efi.Segment) *kernel.Error {
	totalFrames := uint64(totalBytes >> mm.PageShift)
	bitmapSize := mm.Size(totalFrames/8 + 1)
	if segment.Size < bitmapSize {
		return errBitmapSegmentTooSmall
	}

	kernel.Memset(mm.PhysToVirt(segment.Address), 0, uintptr(bitmapSize))

	var err *kernel.Error
	if alloc.bitmap, err = bitmap.New(mm.PhysMemory(segment.Address, bitmapSize), bitmapSize); err != nil {
		return err
	}

	for index := totalFrames; index < alloc.bitmap.Len(); index++ {
		_ = alloc.bitmap.Set(index, true)
	}

	alloc.totalFrames = totalFrames
	alloc.bitmapRegion = mm.FrameFromAddress(segment.Address)
	alloc.freeBytes = mm.Size(totalFrames) << mm.PageShift
	alloc.usedBytes = 0
	alloc.reservedBytes = 0
	alloc.searchCursor = 0
	alloc.state = stateBitmapPlaced

	return nil
}
