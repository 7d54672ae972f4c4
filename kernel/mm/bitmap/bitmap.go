// Package bitmap implements the fixed-capacity bit vector used by the frame
// allocator to track physical frames.
package bitmap

import (
	"efikernel/kernel"
	"efikernel/kernel/mm"
)

var (
	// ErrOutOfRange is returned when accessing a bit index >= Len().
	ErrOutOfRange = &kernel.Error{Module: "bitmap", Message: "bit index out of range"}

	// ErrBufferTooSmall is returned by New when the backing buffer cannot
	// hold the requested number of bytes.
	ErrBufferTooSmall = &kernel.Error{Module: "bitmap", Message: "backing buffer smaller than bitmap size"}
)

// Bitmap is a bit vector over a caller-provided byte buffer. Bits are packed
// most-significant-bit first: bit i lives in byte i/8 under mask
// 1 << (7 - i%8).
//
// Bitmap performs no locking; its owner serializes access.
type Bitmap struct {
	size   mm.Size
	buffer []byte
}

// New returns a Bitmap of size bytes backed by buffer. The buffer contents
// are used as-is.
func New(buffer []byte, size mm.Size) (Bitmap, *kernel.Error) {
	if mm.Size(len(buffer)) < size {
		return Bitmap{}, ErrBufferTooSmall
	}

	return Bitmap{size: size, buffer: buffer[:size]}, nil
}

// Size returns the bitmap size in bytes.
func (b *Bitmap) Size() mm.Size {
	return b.size
}

// Len returns the number of addressable bits.
func (b *Bitmap) Len() uint64 {
	return uint64(b.size) * 8
}

// Get returns the value of the bit at index.
func (b *Bitmap) Get(index uint64) (bool, *kernel.Error) {
	if index >= b.Len() {
		return false, ErrOutOfRange
	}

	return b.buffer[index>>3]&mask(index) != 0, nil
}

// Set updates the bit at index.
func (b *Bitmap) Set(index uint64, value bool) *kernel.Error {
	if index >= b.Len() {
		return ErrOutOfRange
	}

	if value {
		b.buffer[index>>3] |= mask(index)
	} else {
		b.buffer[index>>3] &^= mask(index)
	}
	return nil
}

func mask(index uint64) byte {
	return 0x80 >> (index & 7)
}
