//go:build !linux

package sysproc

import "k8s.io/utils/cpuset"

// Unsupported rejects every operation.
type Unsupported struct{}

// New returns the platform implementation for this OS.
func New() Platform {
	return Unsupported{}
}

func (Unsupported) Spawn(Command) (int, error) { return 0, ErrUnsupported }

func (Unsupported) SetAffinity(int, cpuset.CPUSet) error { return ErrUnsupported }

func (Unsupported) SetPriority(int, int) error { return ErrUnsupported }

func (Unsupported) WaitWithUsage(int) (WaitStatus, Usage, error) {
	return WaitStatus{}, Usage{}, ErrUnsupported
}

func (Unsupported) Kill(int) error { return ErrUnsupported }
