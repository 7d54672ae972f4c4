// Package machine runs the kernel memory managers inside a host process.
// Physical memory is simulated by a host buffer that the kernel reaches
// through the direct map, so the allocator code that runs here is the same
// code that runs on hardware.
package machine

import (
	"io"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"efikernel/internal/config"
	"efikernel/internal/logger"
	"efikernel/internal/memmap"
	"efikernel/kernel"
	"efikernel/kernel/hal/efi"
	"efikernel/kernel/kfmt"
	"efikernel/kernel/mm"
	"efikernel/kernel/mm/pmm"
	"efikernel/kernel/mm/vmm"
)

// Machine is a simulated computer with a firmware memory map and the RAM it
// describes.
type Machine struct {
	memMap   *memmap.Map
	firmware []byte
	ram      []byte
	unmap    func() error

	alloc    *pmm.BitmapAllocator
	kernelAS *vmm.AddressSpace
	booted   bool
}

// New allocates RAM for every address described by memMap. Memory mapped
// with BackingMmap starts out zeroed while BackingHeap leaves whatever the
// Go heap had there, much like DRAM at power-on.
func New(memMap *memmap.Map, backing config.Backing) (*Machine, error) {
	if err := memMap.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid memory map")
	}

	size := int(memMap.End())
	m := &Machine{
		memMap:   memMap,
		firmware: memMap.Firmware(),
	}

	switch backing {
	case config.BackingMmap:
		region, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to map %d bytes of RAM", size)
		}
		m.ram = region
		m.unmap = region.Unmap
	case config.BackingHeap:
		m.ram = dirtmake.Bytes(size, size)
	default:
		return nil, errors.Errorf("unknown RAM backing %q", backing)
	}

	logger.L.WithFields(logrus.Fields{
		"ram":         size,
		"backing":     backing,
		"descriptors": len(memMap.Descriptors),
	}).Debug("machine created")

	return m, nil
}

// Boot runs the frame allocator bootstrap against the firmware memory map,
// registers the allocator with the mm package and creates the kernel address
// space. The memory map and the allocator totals are written to console.
func (m *Machine) Boot(console io.Writer) error {
	if m.booted {
		return errors.New("machine already booted")
	}

	mm.SetDirectMapOffset(uintptr(unsafe.Pointer(&m.ram[0])))

	firmwareMap := efi.MemoryMapAt(
		uintptr(unsafe.Pointer(&m.firmware[0])),
		uint64(len(m.firmware)),
		m.memMap.DescriptorSize,
	)
	firmwareMap.Print(&kfmt.PrefixWriter{Sink: console, Prefix: []byte("[efi] ")})

	m.alloc = new(pmm.BitmapAllocator)
	if err := m.alloc.Bootstrap(firmwareMap); err != nil {
		return kernelErr(err)
	}
	mm.SetFrameAllocator(m.alloc.AllocFrame)
	mm.SetFrameReleaser(m.alloc.FreeFrame)

	var err *kernel.Error
	if m.kernelAS, err = vmm.NewAddressSpace(); err != nil {
		return kernelErr(err)
	}

	m.alloc.PrintStats(&kfmt.PrefixWriter{Sink: console, Prefix: []byte("[pfa] ")})
	m.booted = true
	return nil
}

// Allocator returns the frame allocator set up by Boot.
func (m *Machine) Allocator() *pmm.BitmapAllocator {
	return m.alloc
}

// AddressSpace returns the kernel address space created by Boot.
func (m *Machine) AddressSpace() *vmm.AddressSpace {
	return m.kernelAS
}

// Usable reports whether frame lies inside a conventional memory descriptor
// and outside any other descriptor.
func (m *Machine) Usable(frame mm.Frame) bool {
	addr := uint64(frame.Address())

	usable := false
	for _, desc := range m.memMap.Descriptors {
		if addr < desc.PhysicalStart || addr >= desc.PhysicalStart+uint64(desc.Size()) {
			continue
		}
		if !desc.Type.Usable() {
			return false
		}
		usable = true
	}

	return usable
}

// Close releases the kernel address space and the simulated RAM.
func (m *Machine) Close() error {
	if m.booted {
		m.kernelAS.Release()
		mm.SetFrameAllocator(nil)
		mm.SetFrameReleaser(nil)
		mm.SetDirectMapOffset(0)
		m.booted = false
	}

	m.ram = nil
	if m.unmap != nil {
		unmap := m.unmap
		m.unmap = nil
		return errors.Wrap(unmap(), "failed to unmap RAM")
	}

	return nil
}

// kernelErr converts a kernel error into a Go error tagged with the module
// that raised it.
func kernelErr(err *kernel.Error) error {
	return errors.Errorf("[%s] %s", err.Module, err.Message)
}
