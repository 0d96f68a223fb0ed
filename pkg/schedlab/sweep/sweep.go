// Package sweep drives concurrency levels: for each level it spawns the
// workers, reaps them in launch order and derives turnaround and
// throughput from the wall-clock span of the level.
package sweep

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
	"github.com/jamesainslie/schedlab/pkg/schedlab/reaper"
	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/spawner"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// Config describes the workers of every level.
type Config struct {
	// Mode places workers on one CPU or on all of them.
	Mode types.Mode

	// CPU is the core used in single-CPU mode.
	CPU int

	// Nice, when set, is the niceness delta of the last worker of each
	// level. All other workers keep the inherited priority.
	Nice *int

	// Checkpoints is the number of samples per worker.
	Checkpoints int

	// RunDir receives the level directories and tables.
	RunDir string

	// Worker process settings, see spawner.Config.
	Executable string
	Prefix     []string
	Env        []string
	LogPath    string
	LogLevel   string
	Stderr     *os.File
}

// Event reports progress of a level to observers. Usage is set when a
// worker has been reaped and Metric once the level is recorded.
type Event struct {
	NProc  int
	State  types.LevelState
	Dir    string
	Usage  *types.WorkerUsage
	Metric *types.ConcurrencyMetric
	Err    error
}

// Observer receives events synchronously on the orchestrating goroutine.
type Observer func(Event)

// LevelResult is everything one level produced.
type LevelResult struct {
	NProc   int
	State   types.LevelState
	Dir     string
	Handles []types.WorkerHandle
	Usage   []types.WorkerUsage
	Metric  types.ConcurrencyMetric

	// Failed counts workers that did not exit with status 0.
	Failed int
}

// Orchestrator runs levels one at a time and owns the metric table.
type Orchestrator struct {
	platform  sysproc.Platform
	cal       types.CalibrationResult
	cfg       Config
	clock     monoclock.Clock
	observers []Observer

	run     sync.Mutex
	mu      sync.Mutex
	metrics []types.ConcurrencyMetric
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the monotonic clock.
func WithClock(clock monoclock.Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithObserver adds an event observer.
func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, fn) }
}

// New returns an Orchestrator using cal for every worker.
func New(platform sysproc.Platform, cal types.CalibrationResult, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Checkpoints <= 0 {
		cfg.Checkpoints = types.DefaultCheckpoints
	}
	o := &Orchestrator{
		platform: platform,
		cal:      cal,
		cfg:      cfg,
		clock:    monoclock.System{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Metrics returns the metrics recorded so far, in increasing NProc order.
func (o *Orchestrator) Metrics() []types.ConcurrencyMetric {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]types.ConcurrencyMetric(nil), o.metrics...)
}

// Specs returns the worker specs of a level with nproc workers.
func (o *Orchestrator) Specs(nproc int) []types.WorkerSpec {
	specs := make([]types.WorkerSpec, nproc)
	for i := range specs {
		specs[i] = types.WorkerSpec{
			ID:            i,
			CPURestricted: o.cfg.Mode == types.ModeSingleCPU,
			CPU:           o.cfg.CPU,
		}
	}
	if o.cfg.Nice != nil && nproc > 0 {
		nice := *o.cfg.Nice
		specs[nproc-1].NiceDelta = &nice
	}
	return specs
}

// Derive computes the metric of a level from its wall-clock span.
// Throughput is nproc/total. In single-CPU mode the average turnaround
// assumes workers finish at evenly spaced times, u*(nproc+1)/2 with
// u = total/nproc; with several CPUs it is the whole span.
func Derive(mode types.Mode, nproc int, total time.Duration) types.ConcurrencyMetric {
	secs := total.Seconds()
	m := types.ConcurrencyMetric{
		NProc:      nproc,
		TotalReal:  secs,
		Throughput: float64(nproc) / secs,
	}
	if mode == types.ModeSingleCPU {
		u := secs / float64(nproc)
		m.AvgTurnaround = u * float64(nproc+1) / 2
	} else {
		m.AvgTurnaround = secs
	}
	return m
}

// Sweep runs levels 1..maxNProc in order and stops at the first failing
// level. The metrics of every level recorded before the failure are
// returned with the error. Metrics from earlier calls are discarded and
// the sweep table is started afresh.
func (o *Orchestrator) Sweep(maxNProc int) ([]types.ConcurrencyMetric, error) {
	if maxNProc < 1 {
		return nil, fmt.Errorf("%w: got %d", types.ErrInvalidConcurrency, maxNProc)
	}
	if err := o.reset(); err != nil {
		return nil, err
	}
	for n := 1; n <= maxNProc; n++ {
		if _, err := o.RunLevel(n); err != nil {
			return o.Metrics(), err
		}
	}
	return o.Metrics(), nil
}

// RunLevel runs one level with nproc workers to completion. Levels never
// overlap; concurrent callers are serialised.
func (o *Orchestrator) RunLevel(nproc int) (LevelResult, error) {
	if nproc < 1 {
		return LevelResult{NProc: nproc, State: types.LevelIdle}, fmt.Errorf("%w: got %d", types.ErrInvalidConcurrency, nproc)
	}

	o.run.Lock()
	defer o.run.Unlock()

	if last, ok := o.lastNProc(); ok && nproc <= last {
		return LevelResult{NProc: nproc, State: types.LevelIdle},
			fmt.Errorf("%w: level %d follows recorded level %d", types.ErrInvalidConcurrency, nproc, last)
	}

	logger := logging.Get("sweep").With("nproc", nproc)
	res := LevelResult{NProc: nproc, State: types.LevelIdle, Dir: results.LevelDir(o.cfg.RunDir, nproc)}

	if err := os.MkdirAll(res.Dir, 0o755); err != nil {
		return o.fail(&res, fmt.Errorf("level %d: create %s: %w", nproc, res.Dir, err))
	}
	o.transition(&res, types.LevelSpawning)

	start := o.clock.Now()
	sp, err := spawner.New(o.platform, o.clock, spawner.Config{
		Executable:  o.cfg.Executable,
		Prefix:      o.cfg.Prefix,
		Env:         o.cfg.Env,
		Calibration: o.cal,
		Checkpoints: o.cfg.Checkpoints,
		Start:       start,
		Dir:         res.Dir,
		LogPath:     o.cfg.LogPath,
		LogLevel:    o.cfg.LogLevel,
		Stderr:      o.cfg.Stderr,
	})
	if err != nil {
		return o.fail(&res, fmt.Errorf("level %d: %w", nproc, err))
	}

	rp := reaper.New(o.platform, o.clock)
	for _, spec := range o.Specs(nproc) {
		h, err := sp.Spawn(spec)
		if err != nil {
			logger.Error("spawn failed, aborting level", "worker", spec.ID, "error", err)
			var merr *multierror.Error
			merr = multierror.Append(merr, err)
			if cleanupErr := o.abort(rp, res.Handles); cleanupErr != nil {
				merr = multierror.Append(merr, cleanupErr)
			}
			return o.fail(&res, fmt.Errorf("level %d: %w", nproc, merr.ErrorOrNil()))
		}
		rp.Track(h)
		res.Handles = append(res.Handles, h)
	}
	o.transition(&res, types.LevelRunning)
	o.transition(&res, types.LevelReaping)

	usagePath := filepath.Join(o.cfg.RunDir, results.UsageFile)
	var reapErr *multierror.Error
	for _, h := range res.Handles {
		status, usage, err := rp.Reap(h)
		if err != nil {
			reapErr = multierror.Append(reapErr, err)
			continue
		}
		wu := types.WorkerUsage{NProc: nproc, WorkerID: h.ID, PID: h.PID, Exit: status, Usage: usage}
		res.Usage = append(res.Usage, wu)
		if !status.Success() {
			res.Failed++
			logger.Warn("worker failed", "worker", h.ID, "pid", h.PID, "status", status.String())
		}
		if err := results.AppendUsage(usagePath, wu); err != nil {
			reapErr = multierror.Append(reapErr, err)
		}
		o.emit(Event{NProc: nproc, State: types.LevelReaping, Dir: res.Dir, Usage: &wu})
	}
	end := o.clock.Now()

	if err := reapErr.ErrorOrNil(); err != nil {
		return o.fail(&res, fmt.Errorf("level %d: %w", nproc, err))
	}

	res.Metric = Derive(o.cfg.Mode, nproc, end.Sub(start))
	if err := results.AppendMetric(filepath.Join(o.cfg.RunDir, results.SweepFile), res.Metric); err != nil {
		return o.fail(&res, fmt.Errorf("level %d: %w", nproc, err))
	}

	o.mu.Lock()
	o.metrics = append(o.metrics, res.Metric)
	o.mu.Unlock()

	res.State = types.LevelRecorded
	metric := res.Metric
	o.emit(Event{NProc: nproc, State: res.State, Dir: res.Dir, Metric: &metric})

	logger.Info("level recorded",
		"total_real", res.Metric.TotalReal,
		"avg_turnaround", res.Metric.AvgTurnaround,
		"throughput", res.Metric.Throughput,
		"failed", res.Failed,
	)
	return res, nil
}

// reset clears the metric table and truncates the sweep table on disk.
func (o *Orchestrator) reset() error {
	o.run.Lock()
	defer o.run.Unlock()

	o.mu.Lock()
	o.metrics = nil
	o.mu.Unlock()

	if err := os.MkdirAll(o.cfg.RunDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", o.cfg.RunDir, err)
	}
	return results.ResetSweep(filepath.Join(o.cfg.RunDir, results.SweepFile))
}

// lastNProc returns the nproc of the most recently recorded level.
func (o *Orchestrator) lastNProc() (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.metrics) == 0 {
		return 0, false
	}
	return o.metrics[len(o.metrics)-1].NProc, true
}

// abort kills and reaps every worker already started for the level.
func (o *Orchestrator) abort(rp *reaper.Reaper, handles []types.WorkerHandle) error {
	var merr *multierror.Error
	for _, h := range handles {
		if err := o.platform.Kill(h.PID); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	for _, h := range handles {
		if _, _, err := rp.Reap(h); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

func (o *Orchestrator) fail(res *LevelResult, err error) (LevelResult, error) {
	res.State = types.LevelAborted
	o.emit(Event{NProc: res.NProc, State: res.State, Dir: res.Dir, Err: err})
	return *res, err
}

func (o *Orchestrator) transition(res *LevelResult, to types.LevelState) {
	res.State = to
	o.emit(Event{NProc: res.NProc, State: to, Dir: res.Dir})
}

func (o *Orchestrator) emit(ev Event) {
	for _, fn := range o.observers {
		fn(ev)
	}
}
