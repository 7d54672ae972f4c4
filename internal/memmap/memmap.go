// Package memmap loads and stores UEFI memory maps so that the frame
// allocator can be exercised against maps captured from real firmware.
//
// Two formats are supported: a YAML description meant to be written by hand
// and the raw .efimap dump produced by the loader's debug build.
package memmap

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"

	"efikernel/kernel/hal/efi"
	"efikernel/kernel/mm"
)

// Map is a firmware memory map as returned by GetMemoryMap.
type Map struct {
	// DescriptorSize is the stride between two descriptors. It is never
	// smaller than efi.DescriptorSize.
	DescriptorSize uint64

	DescriptorVersion uint32

	Descriptors []efi.MemoryDescriptor
}

// Load reads the memory map at path. Files ending in .efimap are parsed as
// raw dumps; anything else is parsed as YAML.
func Load(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open memory map")
	}
	defer f.Close()

	var m *Map
	if filepath.Ext(path) == RawExt {
		m, err = ReadRaw(f)
	} else {
		m, err = DecodeYAML(f)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load memory map %s", path)
	}

	return m, m.Validate()
}

// MaxDescriptorSize bounds the stride accepted from memory map files.
const MaxDescriptorSize = uint64(mm.PageSize)

func checkDescriptorSize(size uint64) error {
	switch {
	case size < efi.DescriptorSize:
		return errors.Errorf("descriptor size %d is smaller than %d", size, efi.DescriptorSize)
	case size > MaxDescriptorSize:
		return errors.Errorf("descriptor size %d is larger than %d", size, MaxDescriptorSize)
	}
	return nil
}

// Validate checks that the map can be handed to the kernel.
func (m *Map) Validate() error {
	if err := checkDescriptorSize(m.DescriptorSize); err != nil {
		return err
	}

	if len(m.Descriptors) == 0 {
		return errors.New("memory map has no descriptors")
	}

	for i, desc := range m.Descriptors {
		if desc.PhysicalStart&uint64(mm.PageSize-1) != 0 {
			return errors.Errorf("descriptor %d: start address 0x%x is not page-aligned", i, desc.PhysicalStart)
		}
		if desc.NumberOfPages == 0 {
			return errors.Errorf("descriptor %d: empty region at 0x%x", i, desc.PhysicalStart)
		}
	}

	return nil
}

// Sort orders the descriptors by start address. Firmware usually reports
// them in order but is not required to.
func (m *Map) Sort() {
	slices.SortStableFunc(m.Descriptors, func(a, b efi.MemoryDescriptor) int {
		switch {
		case a.PhysicalStart < b.PhysicalStart:
			return -1
		case a.PhysicalStart > b.PhysicalStart:
			return 1
		}
		return 0
	})
}

// End returns the first physical address past the highest descriptor.
func (m *Map) End() uint64 {
	var end uint64
	for i := range m.Descriptors {
		end = max(end, descEnd(&m.Descriptors[i]))
	}
	return end
}

// Overlaps returns the index pairs of descriptors whose ranges intersect.
// The kernel tolerates overlaps; they are reported for diagnostics.
func (m *Map) Overlaps() [][2]int {
	order := make([]int, len(m.Descriptors))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		switch sa, sb := m.Descriptors[a].PhysicalStart, m.Descriptors[b].PhysicalStart; {
		case sa < sb:
			return -1
		case sa > sb:
			return 1
		}
		return 0
	})

	var overlaps [][2]int
	for i, a := range order {
		for _, b := range order[i+1:] {
			if m.Descriptors[b].PhysicalStart >= descEnd(&m.Descriptors[a]) {
				break
			}
			overlaps = append(overlaps, [2]int{min(a, b), max(a, b)})
		}
	}

	return overlaps
}

func descEnd(desc *efi.MemoryDescriptor) uint64 {
	return desc.PhysicalStart + uint64(desc.Size())
}

func alignUp[T constraints.Unsigned](v, align T) T {
	return (v + align - 1) &^ (align - 1)
}
