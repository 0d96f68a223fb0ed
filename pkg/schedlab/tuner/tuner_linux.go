//go:build linux

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
	"k8s.io/utils/cpuset"

	"github.com/jamesainslie/schedlab/pkg/schedlab/affinity"
)

// cpuSetSize is CPU_SETSIZE.
const cpuSetSize = 1024

// Detect detects available system resources. On linux it reads the online
// CPU list from sysfs, the affinity mask with sched_getaffinity and memory
// with sysinfo.
func Detect() (SystemResources, error) {
	resources := SystemResources{CPUCores: runtime.NumCPU()}

	online, err := affinity.OnlineCPUs()
	if err != nil {
		return resources, fmt.Errorf("failed to read online CPUs: %w", err)
	}
	resources.Online = online

	var mask unix.CPUSet
	if err := unix.SchedGetaffinity(0, &mask); err == nil {
		var ids []int
		for cpu := 0; cpu < cpuSetSize; cpu++ {
			if mask.IsSet(cpu) {
				ids = append(ids, cpu)
			}
		}
		resources.Allowed = cpuset.New(ids...)
	}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return resources, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	resources.TotalRAM = int64(uint64(info.Totalram) * unit)
	resources.AvailableRAM = int64((uint64(info.Freeram) + uint64(info.Bufferram)) * unit)

	return resources, nil
}
