//go:build !linux && !darwin

package tuner

import (
	"runtime"

	"github.com/jamesainslie/schedlab/pkg/schedlab/affinity"
)

// defaultTotalRAM is assumed when the platform cannot report memory.
const defaultTotalRAM = 8 * 1024 * 1024 * 1024

// Detect returns the CPU count from the runtime and a default memory size.
func Detect() (SystemResources, error) {
	return SystemResources{
		CPUCores:     runtime.NumCPU(),
		Online:       affinity.Fallback(),
		TotalRAM:     defaultTotalRAM,
		AvailableRAM: defaultTotalRAM / 2,
	}, nil
}
