// Package affinity restricts processes to CPU cores.
package affinity

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"k8s.io/utils/cpuset"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
)

// OnlinePath lists the CPUs the kernel has brought online.
const OnlinePath = "/sys/devices/system/cpu/online"

// ErrCPUOffline is returned when pinning to a core that is not online.
var ErrCPUOffline = errors.New("cpu is not online")

// Controller applies CPU placement through a sysproc.Platform.
type Controller struct {
	platform sysproc.Platform
	online   func() (cpuset.CPUSet, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithOnline replaces the source of the online CPU set.
func WithOnline(fn func() (cpuset.CPUSet, error)) Option {
	return func(c *Controller) {
		c.online = fn
	}
}

// New returns a Controller backed by platform.
func New(platform sysproc.Platform, opts ...Option) *Controller {
	c := &Controller{platform: platform, online: OnlineCPUs}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PinToCPU restricts the calling process to core.
func (c *Controller) PinToCPU(core int) error {
	return c.Pin(sysproc.Self, core)
}

// Pin restricts pid to core. A failure is logged as a warning and
// returned; callers treat it as non-fatal.
func (c *Controller) Pin(pid, core int) error {
	logger := logging.Get("affinity")

	online, err := c.online()
	if err != nil {
		logger.Warn("reading online cpus failed", "error", err)
		return err
	}
	if !online.Contains(core) {
		err := fmt.Errorf("%w: %d (online: %s)", ErrCPUOffline, core, online.String())
		logger.Warn("pin rejected", "pid", pid, "cpu", core, "error", err)
		return err
	}

	if err := c.platform.SetAffinity(pid, cpuset.New(core)); err != nil {
		logger.Warn("pin failed", "pid", pid, "cpu", core, "error", err)
		return fmt.Errorf("pin to cpu %d: %w", core, err)
	}
	logger.Debug("pinned", "pid", pid, "cpu", core)
	return nil
}

// Unrestrict lets the calling process run on every online core.
func (c *Controller) Unrestrict() error {
	logger := logging.Get("affinity")

	online, err := c.online()
	if err != nil {
		logger.Warn("reading online cpus failed", "error", err)
		return err
	}
	if err := c.platform.SetAffinity(sysproc.Self, online); err != nil {
		logger.Warn("unrestrict failed", "cpus", online.String(), "error", err)
		return fmt.Errorf("widen affinity to %s: %w", online.String(), err)
	}
	logger.Debug("unrestricted", "cpus", online.String())
	return nil
}

// OnlineCPUs reads the online CPU list from sysfs, falling back to
// 0..NumCPU-1 where sysfs is unavailable.
func OnlineCPUs() (cpuset.CPUSet, error) {
	data, err := os.ReadFile(OnlinePath)
	if err != nil {
		return Fallback(), nil
	}
	return ParseOnline(string(data))
}

// ParseOnline parses a kernel CPU list such as "0-3,8".
func ParseOnline(s string) (cpuset.CPUSet, error) {
	set, err := cpuset.Parse(strings.TrimSpace(s))
	if err != nil {
		return cpuset.New(), fmt.Errorf("parse cpu list %q: %w", s, err)
	}
	return set, nil
}

// Fallback returns CPUs 0..runtime.NumCPU()-1.
func Fallback() cpuset.CPUSet {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpuset.New(cpus...)
}
