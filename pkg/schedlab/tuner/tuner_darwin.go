//go:build darwin

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/schedlab/pkg/schedlab/affinity"
)

// Detect detects available system resources. On darwin memory comes from
// sysctl hw.memsize and every CPU is treated as online; the affinity mask
// cannot be queried.
func Detect() (SystemResources, error) {
	resources := SystemResources{
		CPUCores: runtime.NumCPU(),
		Online:   affinity.Fallback(),
	}

	memsize, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return resources, fmt.Errorf("sysctl hw.memsize: %w", err)
	}
	resources.TotalRAM = int64(memsize)
	// macOS keeps most free memory in the file cache; half is a usable
	// estimate for sizing a sweep.
	resources.AvailableRAM = resources.TotalRAM / 2

	return resources, nil
}
