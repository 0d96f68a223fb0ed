// Package tuner detects the CPUs and memory available to schedlab and
// suggests sweep sizes that the host can sustain.
package tuner

import "k8s.io/utils/cpuset"

// SystemResources contains detected system resources.
type SystemResources struct {
	// CPUCores is the number of logical CPUs the Go runtime sees.
	CPUCores int

	// Online is the set of online CPUs.
	Online cpuset.CPUSet

	// Allowed is the calling process's affinity mask. It is empty when
	// the platform cannot report it.
	Allowed cpuset.CPUSet

	// TotalRAM is the total physical RAM in bytes.
	TotalRAM int64

	// AvailableRAM is the available (free) RAM in bytes. It may be an
	// estimate.
	AvailableRAM int64
}
