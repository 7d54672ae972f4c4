package mm

const (
	// PointerShift is log2 of the pointer size; page table entries are
	// indexed by shifting their index left by PointerShift.
	PointerShift = 3

	// PageShift converts between addresses and frame or page indices.
	PageShift = 12

	// PageSize is the size of a frame and of a page.
	PageSize = Size(1 << PageShift)
)
