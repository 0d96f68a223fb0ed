package tuner

import (
	"k8s.io/utils/cpuset"

	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

const (
	// maxNProc caps any suggested sweep.
	maxNProc = 64

	// singleCPUNProc is enough levels on one core to show turnaround
	// growing linearly with nproc.
	singleCPUNProc = 8

	// bytesPerWorker estimates the resident size of one worker process.
	bytesPerWorker = 16 << 20

	// workerMemoryFraction is the share of available RAM the largest level
	// may occupy.
	workerMemoryFraction = 0.25
)

// Suggestion is a recommended sweep configuration.
type Suggestion struct {
	// MaxNProc is the largest concurrency level to sweep.
	MaxNProc int

	// CPU is the core to confine single-CPU experiments to.
	CPU int

	// MemoryBound is set when available RAM lowered MaxNProc.
	MemoryBound bool
}

// Suggest returns a sweep configuration for mode. Multi-CPU sweeps go to
// twice the usable CPUs so that the throughput plateau is visible.
func Suggest(resources SystemResources, mode types.Mode) Suggestion {
	s := Suggestion{CPU: firstCPU(resources)}

	switch mode {
	case types.ModeMultiCPU:
		s.MaxNProc = 2 * usableCPUs(resources)
	default:
		s.MaxNProc = singleCPUNProc
	}
	s.MaxNProc = max(min(s.MaxNProc, maxNProc), 1)

	if resources.AvailableRAM > 0 {
		fit := int(float64(resources.AvailableRAM) * workerMemoryFraction / bytesPerWorker)
		if fit < s.MaxNProc {
			s.MaxNProc = max(fit, 1)
			s.MemoryBound = true
		}
	}
	return s
}

// usableCPUs returns the number of CPUs workers may run on.
func usableCPUs(r SystemResources) int {
	if r.Allowed.Size() > 0 {
		return r.Allowed.Size()
	}
	if r.Online.Size() > 0 {
		return r.Online.Size()
	}
	return max(r.CPUCores, 1)
}

// firstCPU returns the lowest CPU the process may use.
func firstCPU(r SystemResources) int {
	for _, set := range []cpuset.CPUSet{r.Allowed, r.Online} {
		if list := set.List(); len(list) > 0 {
			return list[0]
		}
	}
	return 0
}
