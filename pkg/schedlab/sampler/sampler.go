// Package sampler runs inside a worker process: it performs calibrated
// work in K equal steps and records the elapsed time after each.
package sampler

import (
	"fmt"
	"runtime"
	"time"

	"github.com/jamesainslie/schedlab/pkg/schedlab/affinity"
	"github.com/jamesainslie/schedlab/pkg/schedlab/load"
	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// Run performs k checkpoints of cal.LoopsPerMs iterations each and returns
// the elapsed time since start after every checkpoint. The record's
// WorkerID is left for the caller to set.
func Run(cal types.CalibrationResult, start monoclock.Instant, k int, clock monoclock.Clock, spin load.Func) types.ProgressRecord {
	samples := make([]types.Checkpoint, k)
	for i := range k {
		spin(cal.LoopsPerMs)
		samples[i] = types.Checkpoint{
			ElapsedMs: float64(clock.Now().Sub(start)) / float64(time.Millisecond),
			Index:     i,
		}
	}
	return types.ProgressRecord{Samples: samples}
}

// Worker is the body of a worker process.
type Worker struct {
	cfg      Config
	platform sysproc.Platform
	affinity *affinity.Controller
	clock    monoclock.Clock
	spin     load.Func
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithClock replaces the monotonic clock.
func WithClock(clock monoclock.Clock) WorkerOption {
	return func(w *Worker) { w.clock = clock }
}

// WithSpin replaces the work function.
func WithSpin(spin load.Func) WorkerOption {
	return func(w *Worker) { w.spin = spin }
}

// WithAffinity replaces the affinity controller.
func WithAffinity(c *affinity.Controller) WorkerOption {
	return func(w *Worker) { w.affinity = c }
}

// NewWorker returns a Worker for cfg.
func NewWorker(cfg Config, platform sysproc.Platform, opts ...WorkerOption) *Worker {
	w := &Worker{
		cfg:      cfg,
		platform: platform,
		clock:    monoclock.System{},
		spin:     load.Spin,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.affinity == nil {
		w.affinity = affinity.New(platform)
	}
	return w
}

// Run applies placement and priority, samples, and writes the progress
// record. Placement failures are logged and the work proceeds.
func (w *Worker) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	logger := logging.Get("worker").With("id", w.cfg.ID)

	if w.cfg.CPURestricted {
		if err := w.affinity.PinToCPU(w.cfg.CPU); err != nil {
			logger.Warn("running unpinned", "cpu", w.cfg.CPU, "error", err)
		}
	} else if err := w.affinity.Unrestrict(); err != nil {
		logger.Warn("keeping inherited affinity", "error", err)
	}

	if w.cfg.Nice != nil {
		if err := w.platform.SetPriority(sysproc.Self, *w.cfg.Nice); err != nil {
			logger.Warn("running at inherited priority", "nice", *w.cfg.Nice, "error", err)
		}
	}

	cal := types.CalibrationResult{LoopsPerMs: w.cfg.LoopsPerMs}
	logger.Debug("sampling", "checkpoints", w.cfg.Checkpoints, "loops_per_ms", cal.LoopsPerMs)

	rec := Run(cal, w.cfg.Start, w.cfg.Checkpoints, w.clock, w.spin)
	rec.WorkerID = w.cfg.ID

	if err := results.WriteProgress(w.cfg.Dir, rec); err != nil {
		return fmt.Errorf("worker %d: %w", w.cfg.ID, err)
	}
	logger.Debug("record written", "final_ms", rec.Final())
	return nil
}
