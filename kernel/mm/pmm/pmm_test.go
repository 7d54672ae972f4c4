package pmm

import (
	"bytes"
	"testing"

	"efikernel/kernel/mm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	origMemoryMapFn := activeMemoryMapFn
	defer func() {
		frameAllocator = BitmapAllocator{}
		activeMemoryMapFn = origMemoryMapFn
		mm.SetFrameAllocator(nil)
		mm.SetFrameReleaser(nil)
	}()

	setupRAM(t, 16*mm.Mb)
	activeMemoryMapFn = func() MemoryMap { return firmwareMemoryMap(sixteenMegMap) }

	require.Nil(t, Init())

	frame, err := mm.AllocFrame()
	require.Nil(t, err)
	assert.Equal(t, mm.Frame(0), frame)

	Lock(mm.Frame(1), 1)
	Reserve(mm.Frame(2), 2)
	Unreserve(mm.Frame(3), 1)

	free, used, reserved := Query()
	assert.Equal(t, mm.Size(4096-48-1-2-1)*mm.PageSize, free)
	assert.Equal(t, mm.Size(3)*mm.PageSize, used)
	assert.Equal(t, mm.Size(49)*mm.PageSize, reserved)

	mm.FreeFrame(frame)
	frame, err = AllocFrame()
	require.Nil(t, err)
	assert.Equal(t, mm.Frame(0), frame)
	FreeFrame(frame)

	var buf bytes.Buffer
	PrintStats(&buf)
	assert.Equal(t,
		"[pfa] free memory: 16568320 bytes (4045 pages)\n"+
			"[pfa] used memory: 8192 bytes (2 pages)\n"+
			"[pfa] reserved memory: 200704 bytes (49 pages)\n",
		buf.String(),
	)
}
