package mm

import (
	"testing"
	"unsafe"

	"efikernel/kernel"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}

		if got := FrameFromAddress(frame.Address()); got != frame {
			t.Errorf("expected FrameFromAddress(frame.Address()) to return %d; got %d", frame, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    uintptr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
		{0x640000, Frame(1600)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.expFrame {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.expFrame, got)
		}
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input   uintptr
		expPage Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{0xffff800000001234, Page(0xffff800000001)},
	}

	for specIndex, spec := range specs {
		if got := PageFromAddress(spec.input); got != spec.expPage {
			t.Errorf("[spec %d] expected returned page to be %v; got %v", specIndex, spec.expPage, got)
		}

		if got := spec.expPage.Address(); got != spec.input&^uintptr(PageSize-1) {
			t.Errorf("[spec %d] expected page address 0x%x; got 0x%x", specIndex, spec.input&^uintptr(PageSize-1), got)
		}
	}
}

func TestSizePages(t *testing.T) {
	specs := []struct {
		size     Size
		expPages uint64
	}{
		{0, 0},
		{1, 1},
		{PageSize, 1},
		{PageSize + 1, 2},
		{513, 1},
		{16 * Mb, 4096},
	}

	for specIndex, spec := range specs {
		if got := spec.size.Pages(); got != spec.expPages {
			t.Errorf("[spec %d] expected %d pages; got %d", specIndex, spec.expPages, got)
		}
	}
}

func TestFrameAllocator(t *testing.T) {
	defer func() {
		frameAllocator = nil
		frameReleaser = nil
	}()

	if _, err := AllocFrame(); err != errNoFrameAllocator {
		t.Fatalf("expected errNoFrameAllocator; got %v", err)
	}

	// FreeFrame without a releaser is a no-op
	FreeFrame(Frame(1))

	var (
		allocCalled bool
		freed       Frame
	)
	SetFrameAllocator(func() (Frame, *kernel.Error) {
		allocCalled = true
		return FrameFromAddress(0xbadf00), nil
	})
	SetFrameReleaser(func(f Frame) {
		freed = f
	})

	frame, err := AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if !allocCalled {
		t.Fatal("expected the registered allocator to be called")
	}

	FreeFrame(frame)
	if freed != frame {
		t.Fatalf("expected frame %d to be released; got %d", frame, freed)
	}
}

func TestDirectMap(t *testing.T) {
	defer SetDirectMapOffset(0)

	ram := make([]byte, 4*PageSize)
	SetDirectMapOffset(uintptr(unsafe.Pointer(&ram[0])))

	if got := DirectMapOffset(); got != uintptr(unsafe.Pointer(&ram[0])) {
		t.Fatalf("expected DirectMapOffset to return the RAM base; got 0x%x", got)
	}

	page := PhysMemory(Frame(2).Address(), PageSize)
	page[0] = 0xAA
	page[PageSize-1] = 0xBB

	if ram[2*PageSize] != 0xAA || ram[3*PageSize-1] != 0xBB {
		t.Fatal("expected PhysMemory to alias the simulated RAM")
	}

	if PhysMemory(0, 0) != nil {
		t.Fatal("expected a zero-sized overlay to be nil")
	}
}
