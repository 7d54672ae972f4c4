package memmap

import (
	"io"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"efikernel/kernel/hal/efi"
	"efikernel/kernel/mm"
)

type yamlMap struct {
	DescriptorSize    uint64           `yaml:"descriptor_size,omitempty"`
	DescriptorVersion uint32           `yaml:"descriptor_version,omitempty"`
	Descriptors       []yamlDescriptor `yaml:"descriptors"`
}

// yamlDescriptor describes a region either by page count or by byte size.
// Sizes are rounded up to whole pages.
type yamlDescriptor struct {
	Type      memoryType `yaml:"type"`
	Start     uint64     `yaml:"start"`
	Pages     uint64     `yaml:"pages,omitempty"`
	Size      uint64     `yaml:"size,omitempty"`
	Attribute uint64     `yaml:"attribute,omitempty"`
}

// memoryType accepts either the efi.MemoryType name or its numeric value.
type memoryType efi.MemoryType

func (t *memoryType) UnmarshalYAML(node *yaml.Node) error {
	if typ, ok := efi.ParseMemoryType(node.Value); ok {
		*t = memoryType(typ)
		return nil
	}

	v, err := strconv.ParseUint(node.Value, 0, 32)
	if err != nil {
		return errors.Errorf("line %d: unknown memory type %q", node.Line, node.Value)
	}

	*t = memoryType(v)
	return nil
}

func (t memoryType) MarshalYAML() (interface{}, error) {
	if name := efi.MemoryType(t).String(); name != "unknown" {
		return name, nil
	}
	return uint32(t), nil
}

// DecodeYAML parses a YAML memory map. A missing descriptor_size defaults to
// efi.DescriptorSize.
func DecodeYAML(r io.Reader) (*Map, error) {
	var ym yamlMap

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ym); err != nil {
		return nil, errors.Wrap(err, "invalid yaml memory map")
	}

	m := &Map{
		DescriptorSize:    ym.DescriptorSize,
		DescriptorVersion: ym.DescriptorVersion,
		Descriptors:       make([]efi.MemoryDescriptor, 0, len(ym.Descriptors)),
	}
	if m.DescriptorSize == 0 {
		m.DescriptorSize = efi.DescriptorSize
	}

	for i, yd := range ym.Descriptors {
		pages := yd.Pages
		switch {
		case pages != 0 && yd.Size != 0:
			return nil, errors.Errorf("descriptor %d: pages and size are mutually exclusive", i)
		case yd.Size != 0:
			pages = alignUp(yd.Size, uint64(mm.PageSize)) >> mm.PageShift
		}

		m.Descriptors = append(m.Descriptors, efi.MemoryDescriptor{
			Type:          efi.MemoryType(yd.Type),
			PhysicalStart: yd.Start,
			NumberOfPages: pages,
			Attribute:     yd.Attribute,
		})
	}

	return m, nil
}

// EncodeYAML writes m in the format accepted by DecodeYAML.
func EncodeYAML(w io.Writer, m *Map) error {
	ym := yamlMap{
		DescriptorSize:    m.DescriptorSize,
		DescriptorVersion: m.DescriptorVersion,
		Descriptors:       make([]yamlDescriptor, len(m.Descriptors)),
	}
	for i, desc := range m.Descriptors {
		ym.Descriptors[i] = yamlDescriptor{
			Type:      memoryType(desc.Type),
			Start:     desc.PhysicalStart,
			Pages:     desc.NumberOfPages,
			Attribute: desc.Attribute,
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&ym); err != nil {
		return errors.Wrap(err, "failed to encode memory map")
	}
	return enc.Close()
}
