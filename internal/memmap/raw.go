package memmap

import (
	"encoding/binary"
	"io"

	"github.com/cloudwego/gopkg/bufiox"
	"github.com/pkg/errors"

	"efikernel/kernel/hal/efi"
)

// RawExt is the file extension of raw memory map dumps.
const RawExt = ".efimap"

// rawMagic starts every raw dump. It is followed by the descriptor size and
// descriptor version as little-endian uint32 values and then by the
// descriptors exactly as GetMemoryMap returned them.
var rawMagic = [8]byte{'E', 'F', 'I', 'M', 'M', 'A', 'P', 0}

const rawHeaderSize = len(rawMagic) + 8

var (
	ErrBadMagic  = errors.New("not a raw memory map dump")
	ErrTruncated = errors.New("raw memory map dump is truncated")
)

// ReadRaw parses a raw memory map dump.
func ReadRaw(r io.Reader) (*Map, error) {
	rd := bufiox.NewDefaultReader(r)
	defer rd.Release(nil)

	hdr, err := rd.Next(rawHeaderSize)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncated
		}
		return nil, errors.Wrap(err, "failed to read header")
	}
	if [8]byte(hdr[:8]) != rawMagic {
		return nil, ErrBadMagic
	}

	m := &Map{
		DescriptorSize:    uint64(binary.LittleEndian.Uint32(hdr[8:])),
		DescriptorVersion: binary.LittleEndian.Uint32(hdr[12:]),
	}
	if err := checkDescriptorSize(m.DescriptorSize); err != nil {
		return nil, err
	}

	for {
		buf, err := rd.Next(int(m.DescriptorSize))
		if err != nil {
			if _, perr := rd.Peek(1); perr == nil {
				return nil, ErrTruncated
			}
			if err != io.EOF {
				return nil, errors.Wrap(err, "failed to read descriptor")
			}
			return m, nil
		}

		m.Descriptors = append(m.Descriptors, decodeDescriptor(buf))
	}
}

// WriteRaw writes m as a raw memory map dump.
func WriteRaw(w io.Writer, m *Map) error {
	wr := bufiox.NewDefaultWriter(w)

	hdr, err := wr.Malloc(rawHeaderSize)
	if err != nil {
		return err
	}
	copy(hdr, rawMagic[:])
	binary.LittleEndian.PutUint32(hdr[8:], uint32(m.DescriptorSize))
	binary.LittleEndian.PutUint32(hdr[12:], m.DescriptorVersion)

	if err := encodeDescriptors(wr, m); err != nil {
		return err
	}

	return errors.Wrap(wr.Flush(), "failed to write memory map")
}

// Firmware returns the descriptors laid out exactly like the buffer filled by
// GetMemoryMap: each descriptor occupies DescriptorSize bytes.
func (m *Map) Firmware() []byte {
	buf := make([]byte, 0, uint64(len(m.Descriptors))*m.DescriptorSize)
	wr := bufiox.NewBytesWriter(&buf)

	// BytesWriter never fails.
	_ = encodeDescriptors(wr, m)
	_ = wr.Flush()

	return buf
}

func encodeDescriptors(wr bufiox.Writer, m *Map) error {
	for i := range m.Descriptors {
		buf, err := wr.Malloc(int(m.DescriptorSize))
		if err != nil {
			return errors.Wrapf(err, "failed to encode descriptor %d", i)
		}
		encodeDescriptor(buf, &m.Descriptors[i])
	}
	return nil
}

// encodeDescriptor stores desc in the EFI_MEMORY_DESCRIPTOR layout. Bytes
// past the descriptor fields are cleared.
func encodeDescriptor(buf []byte, desc *efi.MemoryDescriptor) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(desc.Type))
	binary.LittleEndian.PutUint32(buf[4:], 0)
	binary.LittleEndian.PutUint64(buf[8:], desc.PhysicalStart)
	binary.LittleEndian.PutUint64(buf[16:], desc.VirtualStart)
	binary.LittleEndian.PutUint64(buf[24:], desc.NumberOfPages)
	binary.LittleEndian.PutUint64(buf[32:], desc.Attribute)
	for i := efi.DescriptorSize; i < uint64(len(buf)); i++ {
		buf[i] = 0
	}
}

func decodeDescriptor(buf []byte) efi.MemoryDescriptor {
	return efi.MemoryDescriptor{
		Type:          efi.MemoryType(binary.LittleEndian.Uint32(buf[0:])),
		PhysicalStart: binary.LittleEndian.Uint64(buf[8:]),
		VirtualStart:  binary.LittleEndian.Uint64(buf[16:]),
		NumberOfPages: binary.LittleEndian.Uint64(buf[24:]),
		Attribute:     binary.LittleEndian.Uint64(buf[32:]),
	}
}
