package efi

import (
	"io"
	"unsafe"

	"efikernel/kernel/kfmt"
	"efikernel/kernel/mm"
)

// MemoryDescriptor mirrors the UEFI EFI_MEMORY_DESCRIPTOR layout.
type MemoryDescriptor struct {
	Type MemoryType
	_    uint32

	// PhysicalStart is always 4K-aligned.
	PhysicalStart uint64
	VirtualStart  uint64

	// NumberOfPages counts 4K pages.
	NumberOfPages uint64
	Attribute     uint64
}

// DescriptorSize is the size of MemoryDescriptor. Firmware may report a
// larger stride; descriptors are always walked using the reported size.
const DescriptorSize = uint64(unsafe.Sizeof(MemoryDescriptor{}))

// Size returns the number of bytes covered by the descriptor.
func (d *MemoryDescriptor) Size() mm.Size {
	return mm.Size(d.NumberOfPages) << mm.PageShift
}

// MemDescriptorVisitor is invoked by VisitMemDescriptors for each
// descriptor. It returns false to abort the scan.
type MemDescriptorVisitor func(desc *MemoryDescriptor) bool

// Segment describes a physically contiguous block of memory.
type Segment struct {
	Address uintptr
	Size    mm.Size
}

// MemoryInfo summarizes a memory map.
type MemoryInfo struct {
	// TotalBytes is the sum of all descriptor sizes.
	TotalBytes mm.Size

	// UsableBytes is the sum of all conventional memory descriptors.
	UsableBytes mm.Size

	// LargestUsable is the biggest conventional memory descriptor. The
	// frame allocator places its bitmap here.
	LargestUsable Segment
}

// MemoryMap provides access to a memory map returned by the firmware's
// GetMemoryMap call.
type MemoryMap struct {
	base           uintptr
	size           uint64
	descriptorSize uint64
}

// MemoryMapAt returns a MemoryMap over size bytes of descriptors that start
// at the kernel-visible address addr and are descriptorSize bytes apart.
func MemoryMapAt(addr uintptr, size, descriptorSize uint64) MemoryMap {
	return MemoryMap{base: addr, size: size, descriptorSize: descriptorSize}
}

// Len returns the number of descriptors in the map.
func (m MemoryMap) Len() int {
	if m.base == 0 || m.descriptorSize < DescriptorSize {
		return 0
	}
	return int(m.size / m.descriptorSize)
}

// VisitMemDescriptors invokes visitor for each descriptor in the map. A map
// whose descriptor stride is smaller than MemoryDescriptor is treated as
// empty.
func (m MemoryMap) VisitMemDescriptors(visitor MemDescriptorVisitor) {
	for i, count := 0, m.Len(); i < count; i++ {
		desc := (*MemoryDescriptor)(unsafe.Pointer(m.base + uintptr(uint64(i)*m.descriptorSize)))
		if !visitor(desc) {
			return
		}
	}
}

// Info scans the memory map and returns the total and usable memory as well
// as the largest usable segment.
func (m MemoryMap) Info() MemoryInfo {
	var info MemoryInfo

	m.VisitMemDescriptors(func(desc *MemoryDescriptor) bool {
		info.TotalBytes += desc.Size()

		if desc.Type.Usable() {
			info.UsableBytes += desc.Size()
			if desc.Size() > info.LargestUsable.Size {
				info.LargestUsable = Segment{
					Address: uintptr(desc.PhysicalStart),
					Size:    desc.Size(),
				}
			}
		}
		return true
	})

	return info
}

// Print writes the memory map to w, one descriptor per line.
func (m MemoryMap) Print(w io.Writer) {
	var info = m.Info()

	kfmt.Fprintf(w, "system memory map:\n")
	m.VisitMemDescriptors(func(desc *MemoryDescriptor) bool {
		kfmt.Fprintf(w, "\t[0x%10x - 0x%10x], pages: %8d, type: %s\n",
			desc.PhysicalStart,
			desc.PhysicalStart+uint64(desc.Size()),
			desc.NumberOfPages,
			desc.Type.String(),
		)
		return true
	})
	kfmt.Fprintf(w, "system memory: %dKb, usable memory: %dKb\n",
		uint64(info.TotalBytes/mm.Kb),
		uint64(info.UsableBytes/mm.Kb),
	)
}
