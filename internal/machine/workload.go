package machine

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"efikernel/internal/config"
	"efikernel/internal/logger"
	"efikernel/kernel/mm"
	"efikernel/kernel/mm/pmm"
	"efikernel/kernel/mm/vmm"
)

// Report summarizes a workload run.
type Report struct {
	Allocated uint64
	Freed     uint64
	Mapped    uint64

	// Exhausted is set when the allocator ran out of frames.
	Exhausted bool

	Free, Used, Reserved mm.Size
	Total                mm.Size
	IgnoredOps           uint64
}

// Run allocates frames, optionally maps them into the kernel address space,
// releases every FreeStride-th frame and checks the allocator accounting.
// Each allocated frame is stamped with its own index through the direct map
// and read back after the mapping phase.
func (m *Machine) Run(cfg config.WorkloadConfig) (Report, error) {
	var report Report
	if !m.booted {
		return report, errors.New("machine not booted")
	}

	var (
		frames = make([]mm.Frame, 0, cfg.Allocations)
		seen   = make(map[mm.Frame]struct{})
	)

	for cfg.Allocations == 0 || uint64(len(frames)) < cfg.Allocations {
		frame, kerr := mm.AllocFrame()
		if kerr == pmm.ErrOutOfMemory {
			report.Exhausted = true
			break
		} else if kerr != nil {
			return report, kernelErr(kerr)
		}

		if _, dup := seen[frame]; dup {
			return report, errors.Errorf("frame %d allocated twice", frame)
		}
		if !m.Usable(frame) {
			return report, errors.Errorf("frame %d (0x%x) is not conventional memory", frame, frame.Address())
		}
		seen[frame] = struct{}{}

		binary.LittleEndian.PutUint64(mm.PhysMemory(frame.Address(), 8), uint64(frame))
		frames = append(frames, frame)

		if cfg.MapPages {
			page := mm.PageFromAddress(cfg.VirtualBase) + mm.Page(len(frames)-1)
			if kerr = m.kernelAS.Map(page, frame, vmm.FlagRW|vmm.FlagNoExecute); kerr == pmm.ErrOutOfMemory {
				report.Exhausted = true
				break
			} else if kerr != nil {
				return report, kernelErr(kerr)
			}
			report.Mapped++
		}
	}
	report.Allocated = uint64(len(frames))

	if err := m.verify(cfg, frames[:report.Mapped]); err != nil {
		return report, err
	}

	for i, frame := range frames {
		if cfg.FreeStride == 0 || uint64(i)%cfg.FreeStride != 0 {
			continue
		}

		if uint64(i) < report.Mapped {
			page := mm.PageFromAddress(cfg.VirtualBase) + mm.Page(i)
			if kerr := m.kernelAS.Unmap(page); kerr != nil {
				return report, kernelErr(kerr)
			}
		}
		mm.FreeFrame(frame)
		report.Freed++
	}

	report.Free, report.Used, report.Reserved = m.alloc.Query()
	report.Total = m.alloc.TotalBytes()
	report.IgnoredOps = m.alloc.IgnoredOps()

	if sum := report.Free + report.Used + report.Reserved; sum != report.Total {
		return report, errors.Errorf("accounting mismatch: free+used+reserved = %d, total = %d", sum, report.Total)
	}

	logger.L.WithFields(logrus.Fields{
		"allocated": report.Allocated,
		"mapped":    report.Mapped,
		"freed":     report.Freed,
		"exhausted": report.Exhausted,
	}).Debug("workload finished")

	return report, nil
}

// verify checks that every mapped page translates to its frame and that the
// frame still carries the stamp written after allocation.
func (m *Machine) verify(cfg config.WorkloadConfig, mapped []mm.Frame) error {
	for i, frame := range mapped {
		virtAddr := (mm.PageFromAddress(cfg.VirtualBase) + mm.Page(i)).Address()

		physAddr, kerr := m.kernelAS.Translate(virtAddr)
		if kerr != nil {
			return errors.Wrapf(kernelErr(kerr), "page 0x%x", virtAddr)
		}
		if physAddr != frame.Address() {
			return errors.Errorf("page 0x%x maps to 0x%x; expected 0x%x", virtAddr, physAddr, frame.Address())
		}

		if stamp := binary.LittleEndian.Uint64(mm.PhysMemory(physAddr, 8)); stamp != uint64(frame) {
			return errors.Errorf("frame %d was overwritten (stamp %d)", frame, stamp)
		}
	}

	return nil
}
