package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pfasim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
machine:
  memory_map: maps/qemu.yaml
  backing: heap
workload:
  allocations: 10
  virtual_base: 0xffff900000000000
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "maps/qemu.yaml", cfg.Machine.MemoryMap)
	assert.Equal(t, BackingHeap, cfg.Machine.Backing)
	assert.Equal(t, uint64(10), cfg.Workload.Allocations)
	assert.Equal(t, uintptr(0xffff900000000000), cfg.Workload.VirtualBase)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Keys missing from the file keep their defaults.
	assert.Equal(t, uint64(2), cfg.Workload.FreeStride)
	assert.True(t, cfg.Workload.MapPages)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "machine:\n  memory_size: 16M\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = Load(writeConfig(t, "workload: [1, 2]\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	specs := []struct {
		name   string
		mutate func(*Config)
		expErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing memory map", func(c *Config) { c.Machine.MemoryMap = "" }, true},
		{"unknown backing", func(c *Config) { c.Machine.Backing = "tmpfs" }, true},
		{"unaligned virtual base", func(c *Config) { c.Workload.VirtualBase = 0x1234 }, true},
		{"unaligned virtual base without mapping", func(c *Config) {
			c.Workload.VirtualBase = 0x1234
			c.Workload.MapPages = false
		}, false},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, true},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			cfg := Default()
			cfg.Machine.MemoryMap = "qemu.yaml"
			spec.mutate(cfg)

			if err := cfg.Validate(); spec.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
