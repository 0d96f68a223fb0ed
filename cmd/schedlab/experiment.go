package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/schedlab/cmd/schedlab/tui"
	"github.com/jamesainslie/schedlab/pkg/schedlab/affinity"
	"github.com/jamesainslie/schedlab/pkg/schedlab/calibrate"
	"github.com/jamesainslie/schedlab/pkg/schedlab/config"
	"github.com/jamesainslie/schedlab/pkg/schedlab/history"
	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/output"
	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sweep"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// experiment is one invocation of a measuring command: a calibration, a
// run directory and the orchestrator that fills it.
type experiment struct {
	cfg      *config.Config
	platform sysproc.Platform
	mode     types.Mode
	nice     *int
	dir      string
	meta     results.Meta
}

// startExperiment calibrates and creates the run directory. In
// single-CPU mode the controlling process is pinned first so that
// calibration and workers share the core.
func startExperiment(cmd *cobra.Command, kind results.Kind, mode types.Mode, maxNProc int, nice *int) (*experiment, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	platform := sysproc.New()
	if mode == types.ModeSingleCPU {
		if err := affinity.New(platform).PinToCPU(cfg.CPU); err != nil {
			printVerbose("could not pin to CPU %d: %v", cfg.CPU, err)
		}
	}

	cal := runCalibration(cfg.Calibration.Loops)

	now := time.Now()
	id := history.NewRunID(kind, now)
	dir := filepath.Join(cfg.ResultsDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	host, _ := os.Hostname()
	e := &experiment{
		cfg:      cfg,
		platform: platform,
		mode:     mode,
		nice:     nice,
		dir:      dir,
		meta: results.Meta{
			ID:          id,
			Kind:        kind,
			Mode:        mode.String(),
			MaxNProc:    maxNProc,
			Checkpoints: cfg.Checkpoints,
			CPU:         cfg.CPU,
			Nice:        nice,
			Calibration: cal,
			Host:        host,
			Version:     version,
			StartedAt:   now.UTC(),
		},
	}
	if err := results.WriteMeta(dir, e.meta); err != nil {
		return nil, err
	}

	logging.Get("schedlab").Info("run started", "id", id, "kind", kind, "mode", mode.String(),
		"max_nproc", maxNProc, "loops_per_ms", cal.LoopsPerMs)
	printStatus("Run %s -> %s", id, dir)
	return e, nil
}

// runCalibration times the work unit once for the whole invocation.
func runCalibration(loops uint64) types.CalibrationResult {
	printStatus("Calibrating (%s loops)...", humanize.Comma(int64(loops)))
	cal := calibrate.New(calibrate.WithLoops(loops)).Calibrate()
	printStatus("Calibrated: %s", cal.HumanRate())
	return cal
}

// orchestrator returns an Orchestrator writing into the run directory.
func (e *experiment) orchestrator(observers ...sweep.Observer) *sweep.Orchestrator {
	workerLevel := "warn"
	if lvl, ok := e.cfg.Logging.Components["worker"]; ok && lvl != "" {
		workerLevel = lvl
	}
	if getVerbose() {
		workerLevel = "debug"
	}

	opts := make([]sweep.Option, 0, len(observers))
	for _, fn := range observers {
		opts = append(opts, sweep.WithObserver(fn))
	}
	return sweep.New(e.platform, e.meta.Calibration, sweep.Config{
		Mode:        e.mode,
		CPU:         e.cfg.CPU,
		Nice:        e.nice,
		Checkpoints: e.cfg.Checkpoints,
		RunDir:      e.dir,
		LogPath:     logging.Path(),
		LogLevel:    workerLevel,
	}, opts...)
}

// execute runs fn with the orchestrator, behind the live view when
// --tui is set and with one status line per level otherwise.
func (e *experiment) execute(levels []int, fn func(o *sweep.Orchestrator) error) error {
	if liveView {
		return tui.Run(tui.Options{
			Title:  fmt.Sprintf("%s  %s  %s", e.meta.ID, e.mode, e.meta.Calibration.HumanRate()),
			Levels: levels,
			Logs:   logging.GetLogBuffer(),
		}, func(observe sweep.Observer) error {
			return fn(e.orchestrator(observe))
		})
	}
	return fn(e.orchestrator(printLevel))
}

// printLevel is the plain-text observer.
func printLevel(ev sweep.Event) {
	switch ev.State {
	case types.LevelRecorded:
		if ev.Metric != nil {
			printStatus("  nproc %3d  total %8.3fs  turnaround %8.3fs  throughput %7.3f/s",
				ev.NProc, ev.Metric.TotalReal, ev.Metric.AvgTurnaround, ev.Metric.Throughput)
		}
	case types.LevelAborted:
		printStatus("  nproc %3d  aborted: %v", ev.NProc, ev.Err)
	case types.LevelSpawning:
		printVerbose("level %d: spawning", ev.NProc)
	}
}

// finish marks the run complete, reloads it from disk and records it in
// history.
func (e *experiment) finish() (*results.Run, error) {
	e.meta.FinishedAt = time.Now().UTC()
	if err := results.WriteMeta(e.dir, e.meta); err != nil {
		return nil, err
	}
	if err := results.MarkDone(e.dir, e.meta.FinishedAt); err != nil {
		return nil, fmt.Errorf("failed to mark run done: %w", err)
	}

	run, err := results.LoadRun(e.dir)
	if err != nil {
		return nil, err
	}
	recordHistory(e.cfg, run)
	logging.Get("schedlab").Info("run finished", "id", e.meta.ID, "levels", len(run.Levels))
	return run, nil
}

// recordHistory adds run to the catalog. Failures only cost the catalog
// entry; `history reindex` restores it.
func recordHistory(cfg *config.Config, run *results.Run) {
	if !cfg.History.Enabled {
		return
	}
	logger := logging.Get("history")

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		logger.Warn("history unavailable", "error", err)
		return
	}
	defer store.Close()

	if err := store.Put(history.EntryFromRun(run)); err != nil {
		logger.Warn("failed to record run", "id", run.Meta.ID, "error", err)
	}
}

// render prints run in the configured format.
func render(cfg *config.Config, run *results.Run) error {
	formatter, err := getFormatter(cfg.Output)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := formatter.Format(&buf, output.FromRun(run)); err != nil {
		return fmt.Errorf("failed to format report: %w", err)
	}
	_, err = os.Stdout.Write(buf.Bytes())
	return err
}

// levelRange returns 1..n.
func levelRange(n int) []int {
	levels := make([]int, n)
	for i := range levels {
		levels[i] = i + 1
	}
	return levels
}
