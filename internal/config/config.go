// Package config loads the YAML configuration of the frame allocator
// simulator.
package config

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"efikernel/kernel/mm"
)

// Backing selects where the simulated physical memory lives.
type Backing string

const (
	// BackingMmap maps anonymous memory for the simulated RAM.
	BackingMmap Backing = "mmap"

	// BackingHeap allocates the simulated RAM on the Go heap without
	// clearing it.
	BackingHeap Backing = "heap"
)

type Config struct {
	Machine  MachineConfig  `yaml:"machine"`
	Workload WorkloadConfig `yaml:"workload"`
	Log      LogConfig      `yaml:"log"`
}

type MachineConfig struct {
	// MemoryMap is the path to a .yaml or .efimap memory map.
	MemoryMap string  `yaml:"memory_map"`
	Backing   Backing `yaml:"backing"`
}

type WorkloadConfig struct {
	// Allocations is the number of frames requested from the allocator.
	// Zero allocates until the allocator runs out of memory.
	Allocations uint64 `yaml:"allocations"`

	// FreeStride releases every n-th allocated frame after the allocation
	// phase. Zero keeps every frame.
	FreeStride uint64 `yaml:"free_stride"`

	// MapPages maps every allocated frame into the kernel address space
	// starting at VirtualBase.
	MapPages    bool    `yaml:"map_pages"`
	VirtualBase uintptr `yaml:"virtual_base"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Machine: MachineConfig{
			Backing: BackingMmap,
		},
		Workload: WorkloadConfig{
			Allocations: 1024,
			FreeStride:  2,
			MapPages:    true,
			VirtualBase: 0xffff800000000000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the file at path on top of Default. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config")
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config %s", path)
	}

	return cfg, nil
}

// Validate checks that the configuration can drive a simulation.
func (c *Config) Validate() error {
	if c.Machine.MemoryMap == "" {
		return errors.New("machine.memory_map is required")
	}

	switch c.Machine.Backing {
	case BackingMmap, BackingHeap:
	default:
		return errors.Errorf("machine.backing: unknown backing %q", c.Machine.Backing)
	}

	if c.Workload.MapPages && c.Workload.VirtualBase&uintptr(mm.PageSize-1) != 0 {
		return errors.Errorf("workload.virtual_base: 0x%x is not page-aligned", c.Workload.VirtualBase)
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}

	return nil
}
