package mm

// Size is an amount of memory in bytes.
type Size uint64

const (
	Byte Size = 1
	Kb        = Byte << 10
	Mb        = Kb << 10
	Gb        = Mb << 10
)

// Pages returns the number of whole pages needed to hold s bytes.
func (s Size) Pages() uint64 {
	return uint64((s + PageSize - 1) >> PageShift)
}
