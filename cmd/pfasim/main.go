// Command pfasim boots the kernel physical memory managers against a
// firmware memory map inside a host process and runs a frame allocation
// workload on top of them.
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"efikernel/internal/config"
	"efikernel/internal/logger"
	"efikernel/internal/machine"
	"efikernel/internal/memmap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		logger.L.Fatal(err)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("pfasim", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "path to a YAML config file")
		memMapPath = fs.String("memory-map", "", "memory map to boot (.yaml or "+memmap.RawExt+"); overrides the config file")
		logLevel   = fs.String("log-level", "", "log level; overrides the config file")
		convert    = fs.String("convert", "", "write the memory map to this path (format picked by extension) and exit")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *memMapPath != "" {
		cfg.Machine.MemoryMap = *memMapPath
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return err
	}

	memMap, err := memmap.Load(cfg.Machine.MemoryMap)
	if err != nil {
		return err
	}
	for _, pair := range memMap.Overlaps() {
		logger.L.Warnf("descriptors %d and %d overlap", pair[0], pair[1])
	}

	if *convert != "" {
		return convertMap(memMap, *convert)
	}

	return simulate(cfg, memMap)
}

func simulate(cfg *config.Config, memMap *memmap.Map) (err error) {
	m, err := machine.New(memMap, cfg.Machine.Backing)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); err == nil {
			err = cerr
		}
	}()

	console := logger.KernelSink()
	defer console.Close()

	if err = m.Boot(console); err != nil {
		return errors.Wrap(err, "boot failed")
	}

	report, err := m.Run(cfg.Workload)
	if err != nil {
		return errors.Wrap(err, "workload failed")
	}

	logger.L.WithFields(logrus.Fields{
		"allocated":   report.Allocated,
		"mapped":      report.Mapped,
		"freed":       report.Freed,
		"exhausted":   report.Exhausted,
		"free":        uint64(report.Free),
		"used":        uint64(report.Used),
		"reserved":    uint64(report.Reserved),
		"total":       uint64(report.Total),
		"ignored_ops": report.IgnoredOps,
	}).Info("simulation complete")

	return nil
}

func convertMap(memMap *memmap.Map, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create output")
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if filepath.Ext(path) == memmap.RawExt {
		err = memmap.WriteRaw(f, memMap)
	} else {
		err = memmap.EncodeYAML(f, memMap)
	}
	if err != nil {
		return err
	}

	logger.L.WithField("path", path).Info("memory map written")
	return nil
}
