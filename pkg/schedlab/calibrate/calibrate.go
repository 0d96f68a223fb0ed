// Package calibrate measures how many work iterations fit into one
// millisecond on this host.
package calibrate

import (
	"time"

	"github.com/jamesainslie/schedlab/pkg/schedlab/load"
	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// DefaultLoops is the iteration count used when none is configured.
const DefaultLoops uint64 = 1_000_000_000

// Calibrator times a fixed number of work iterations.
type Calibrator struct {
	loops uint64
	clock monoclock.Clock
	spin  load.Func
}

// Option configures a Calibrator.
type Option func(*Calibrator)

// WithLoops sets the iteration count. Zero keeps DefaultLoops.
func WithLoops(n uint64) Option {
	return func(c *Calibrator) {
		if n > 0 {
			c.loops = n
		}
	}
}

// WithClock replaces the monotonic clock used to time the run.
func WithClock(clock monoclock.Clock) Option {
	return func(c *Calibrator) {
		c.clock = clock
	}
}

// WithSpin replaces the work function.
func WithSpin(spin load.Func) Option {
	return func(c *Calibrator) {
		c.spin = spin
	}
}

// New returns a Calibrator using the real work unit and host clock.
func New(opts ...Option) *Calibrator {
	c := &Calibrator{
		loops: DefaultLoops,
		clock: monoclock.System{},
		spin:  load.Spin,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Loops returns the configured iteration count.
func (c *Calibrator) Loops() uint64 {
	return c.loops
}

// Calibrate runs the work loop once and derives the per-millisecond rate.
// When the run completes in under one millisecond the raw iteration count
// is reported as the rate.
func (c *Calibrator) Calibrate() types.CalibrationResult {
	logger := logging.Get("calibrate")
	logger.Debug("calibration started", "loops", c.loops)

	start := c.clock.Now()
	c.spin(c.loops)
	elapsed := c.clock.Now().Sub(start)

	res := types.CalibrationResult{
		Loops:      c.loops,
		Elapsed:    elapsed,
		LoopsPerMs: Rate(c.loops, elapsed),
	}

	logger.Info("calibration finished",
		"loops", c.loops,
		"elapsed", elapsed,
		"loops_per_ms", res.LoopsPerMs,
	)
	return res
}

// Rate converts an iteration count and its elapsed time to iterations per
// millisecond. Elapsed time is truncated to whole milliseconds; zero
// yields loops unchanged. The rate is never below 1.
func Rate(loops uint64, elapsed time.Duration) uint64 {
	ms := uint64(elapsed.Milliseconds())
	if ms == 0 {
		return max(loops, 1)
	}
	return max(loops/ms, 1)
}
