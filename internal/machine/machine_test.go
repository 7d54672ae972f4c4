package machine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"efikernel/internal/config"
	"efikernel/internal/memmap"
	"efikernel/kernel/hal/efi"
	"efikernel/kernel/mm"
	"efikernel/kernel/mm/vmm"
)

// fourMegMap describes 1024 frames. The bitmap lands at frame 32.
func fourMegMap() *memmap.Map {
	return &memmap.Map{
		DescriptorSize: 48,
		Descriptors: []efi.MemoryDescriptor{
			{Type: efi.ConventionalMemory, PhysicalStart: 0x0, NumberOfPages: 16},
			{Type: efi.ReservedMemoryType, PhysicalStart: 0x10000, NumberOfPages: 16},
			{Type: efi.ConventionalMemory, PhysicalStart: 0x20000, NumberOfPages: 992},
		},
	}
}

func bootMachine(t *testing.T, backing config.Backing) *Machine {
	t.Helper()

	m, err := New(fourMegMap(), backing)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, m.Close()) })

	var console bytes.Buffer
	require.NoError(t, m.Boot(&console))

	assert.Contains(t, console.String(), "[efi] system memory: 4096Kb, usable memory: 4032Kb\n")
	assert.Contains(t, console.String(), "[pfa] reserved memory: 65536 bytes (16 pages)\n")

	return m
}

func TestBoot(t *testing.T) {
	for _, backing := range []config.Backing{config.BackingMmap, config.BackingHeap} {
		t.Run(string(backing), func(t *testing.T) {
			m := bootMachine(t, backing)

			free, used, reserved := m.Allocator().Query()
			assert.Equal(t, mm.Size(1006)*mm.PageSize, free)
			assert.Equal(t, mm.Size(2)*mm.PageSize, used, "bitmap frame and kernel page table root")
			assert.Equal(t, mm.Size(16)*mm.PageSize, reserved)

			bitmapFrame, bitmapFrames := m.Allocator().BitmapRegion()
			assert.Equal(t, mm.Frame(32), bitmapFrame)
			assert.Equal(t, uint64(1), bitmapFrames)
			assert.Equal(t, mm.Frame(0), m.AddressSpace().Root())

			assert.Error(t, m.Boot(&bytes.Buffer{}), "second boot must fail")
		})
	}
}

func TestNewErrors(t *testing.T) {
	_, err := New(&memmap.Map{DescriptorSize: 48}, config.BackingHeap)
	assert.Error(t, err)

	_, err = New(fourMegMap(), "tmpfs")
	assert.Error(t, err)
}

func TestUsable(t *testing.T) {
	m, err := New(fourMegMap(), config.BackingHeap)
	require.NoError(t, err)
	defer m.Close()

	assert.True(t, m.Usable(mm.Frame(0)))
	assert.False(t, m.Usable(mm.Frame(16)))
	assert.True(t, m.Usable(mm.Frame(1023)))
	assert.False(t, m.Usable(mm.Frame(1024)), "frames past the map are not usable")
}

func TestRunBeforeBoot(t *testing.T) {
	m, err := New(fourMegMap(), config.BackingHeap)
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Run(config.Default().Workload)
	assert.Error(t, err)
}

func TestRunWithMapping(t *testing.T) {
	m := bootMachine(t, config.BackingHeap)

	report, err := m.Run(config.WorkloadConfig{
		Allocations: 100,
		FreeStride:  2,
		MapPages:    true,
		VirtualBase: 0xffff800000000000,
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(100), report.Allocated)
	assert.Equal(t, uint64(100), report.Mapped)
	assert.Equal(t, uint64(50), report.Freed)
	assert.False(t, report.Exhausted)

	// 100 data frames and 3 new page tables, half of the data frames freed.
	assert.Equal(t, mm.Size(953)*mm.PageSize, report.Free)
	assert.Equal(t, mm.Size(55)*mm.PageSize, report.Used)
	assert.Equal(t, mm.Size(16)*mm.PageSize, report.Reserved)
	assert.Equal(t, 4*mm.Mb, report.Total)
	assert.Zero(t, report.IgnoredOps)

	_, kerr := m.AddressSpace().Translate(0xffff800000000000)
	assert.Equal(t, vmm.ErrInvalidMapping, kerr, "freed frames are unmapped")
	_, kerr = m.AddressSpace().Translate(0xffff800000001000)
	assert.Nil(t, kerr)
}

func TestRunUntilExhausted(t *testing.T) {
	m := bootMachine(t, config.BackingMmap)

	report, err := m.Run(config.WorkloadConfig{})
	require.NoError(t, err)

	assert.True(t, report.Exhausted)
	assert.Equal(t, uint64(1006), report.Allocated)
	assert.Zero(t, report.Freed)
	assert.Zero(t, report.Free)
	assert.Equal(t, mm.Size(1008)*mm.PageSize, report.Used)

	// Nothing is left for a second run.
	report, err = m.Run(config.WorkloadConfig{FreeStride: 1})
	require.NoError(t, err)
	assert.True(t, report.Exhausted)
	assert.Zero(t, report.Allocated)
}
