// Package sysproc is the narrow operating-system surface the harness
// needs: starting a worker, placing it on CPUs, adjusting its priority and
// waiting for it with resource accounting.
package sysproc

import (
	"errors"
	"os"
	"time"

	"k8s.io/utils/cpuset"
)

// Self addresses the calling process in SetAffinity and SetPriority.
const Self = 0

// ErrUnsupported is returned on platforms without an implementation.
var ErrUnsupported = errors.New("operation not supported on this platform")

// Command describes a process to start.
type Command struct {
	// Path is the executable to run.
	Path string

	// Args are the arguments following argv[0].
	Args []string

	// Env is the complete environment. Nil inherits the caller's.
	Env []string

	// Stdout and Stderr receive the child's output. Nil discards it.
	Stdout *os.File
	Stderr *os.File
}

// WaitStatus is how a reaped process terminated.
type WaitStatus struct {
	ExitCode int
	Signaled bool
	Signal   string
}

// Usage is the kernel accounting for a reaped process.
type Usage struct {
	User                time.Duration
	Sys                 time.Duration
	MaxRSSKiB           int64
	VoluntarySwitches   int64
	InvoluntarySwitches int64
}

// Platform is the capability interface over process control.
type Platform interface {
	// Spawn starts cmd and returns its pid. A positive pid returned with
	// an error still names a running child.
	Spawn(cmd Command) (int, error)

	// SetAffinity restricts every thread of pid to cpus.
	SetAffinity(pid int, cpus cpuset.CPUSet) error

	// SetPriority adds delta to the niceness of every thread of pid.
	SetPriority(pid int, delta int) error

	// WaitWithUsage blocks until pid exits and returns its status and
	// accounting. It waits on that pid only.
	WaitWithUsage(pid int) (WaitStatus, Usage, error)

	// Kill terminates pid immediately.
	Kill(pid int) error
}

// clampNice bounds a niceness to the range the kernel accepts.
func clampNice(n int) int {
	switch {
	case n < -20:
		return -20
	case n > 19:
		return 19
	default:
		return n
	}
}
