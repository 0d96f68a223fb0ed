// Package config provides configuration management for schedlab.
package config

// Default configuration values for schedlab.
const (
	// DefaultCalibrationLoops is the iteration count timed by calibration.
	DefaultCalibrationLoops uint64 = 1_000_000_000

	// DefaultCheckpoints is the number of progress samples per worker.
	DefaultCheckpoints = 100

	// DefaultCPU is the core used in single-CPU mode.
	DefaultCPU = 0

	// DefaultRetentionDays is how long history keeps finished runs.
	DefaultRetentionDays = 90

	// DefaultOutput is the report format.
	DefaultOutput = "pretty"

	// EnvPrefix prefixes environment overrides, e.g. SCHEDLAB_CPU.
	EnvPrefix = "SCHEDLAB"
)
