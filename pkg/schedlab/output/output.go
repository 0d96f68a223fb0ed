// Package output provides formatters for displaying schedlab runs in
// various output formats (pretty, plain, json, yaml, etc.).
//
// The package uses a registry pattern to allow registration of multiple
// formatter implementations that can be selected at runtime.
//
// Basic usage:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, output.FromRun(run)); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// WorkerRow is one worker's progress and accounting.
type WorkerRow struct {
	NProc    int    `json:"nproc" yaml:"nproc"`
	WorkerID int    `json:"worker_id" yaml:"worker_id"`
	PID      int    `json:"pid,omitempty" yaml:"pid,omitempty"`
	Exit     string `json:"exit,omitempty" yaml:"exit,omitempty"`

	// FinalMs is the elapsed time at the worker's last checkpoint.
	FinalMs float64 `json:"final_ms" yaml:"final_ms"`

	// Samples is the number of checkpoints recorded.
	Samples int `json:"samples" yaml:"samples"`

	Real      float64 `json:"real" yaml:"real"`
	User      float64 `json:"user" yaml:"user"`
	Sys       float64 `json:"sys" yaml:"sys"`
	MaxRSSKiB int64   `json:"max_rss_kib" yaml:"max_rss_kib"`

	// Context switches the worker gave up and had forced on it.
	VoluntarySwitches   int64 `json:"voluntary_switches" yaml:"voluntary_switches"`
	InvoluntarySwitches int64 `json:"involuntary_switches" yaml:"involuntary_switches"`

	// HasUsage is false when no usage row was recorded for the worker.
	HasUsage bool `json:"-" yaml:"-"`
}

// Report contains the complete data for formatting one run.
type Report struct {
	RunID       string                    `json:"run_id" yaml:"run_id"`
	Kind        string                    `json:"kind" yaml:"kind"`
	Mode        string                    `json:"mode" yaml:"mode"`
	Dir         string                    `json:"dir" yaml:"dir"`
	Complete    bool                      `json:"complete" yaml:"complete"`
	Checkpoints int                       `json:"checkpoints" yaml:"checkpoints"`
	Nice        *int                      `json:"nice,omitempty" yaml:"nice,omitempty"`
	Calibration types.CalibrationResult   `json:"calibration" yaml:"calibration"`
	StartedAt   time.Time                 `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time                 `json:"finished_at,omitzero" yaml:"finished_at,omitempty"`
	Metrics     []types.ConcurrencyMetric `json:"metrics" yaml:"metrics"`
	Workers     []WorkerRow               `json:"workers" yaml:"workers"`

	// Skipped is the number of malformed lines ignored while loading.
	Skipped int `json:"skipped" yaml:"skipped"`

	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Duration returns the wall-clock length of the run, or 0 when it never
// finished.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FromRun flattens a loaded run into a Report.
func FromRun(run *results.Run) *Report {
	r := &Report{
		RunID:       run.Meta.ID,
		Kind:        string(run.Meta.Kind),
		Mode:        run.Meta.Mode,
		Dir:         run.Dir,
		Complete:    run.Complete,
		Checkpoints: run.Meta.Checkpoints,
		Nice:        run.Meta.Nice,
		Calibration: run.Meta.Calibration,
		StartedAt:   run.Meta.StartedAt,
		FinishedAt:  run.Meta.FinishedAt,
		Metrics:     run.Metrics,
		Skipped:     run.Stats.Skipped,
	}

	for _, level := range run.Levels {
		rows := make(map[int]*WorkerRow)
		row := func(id int) *WorkerRow {
			w, ok := rows[id]
			if !ok {
				w = &WorkerRow{NProc: level.NProc, WorkerID: id}
				rows[id] = w
			}
			return w
		}
		for _, rec := range level.Records {
			w := row(rec.WorkerID)
			w.FinalMs = rec.Final()
			w.Samples = len(rec.Samples)
			if run.Meta.Checkpoints > 0 {
				if err := rec.Validate(run.Meta.Checkpoints); err != nil {
					r.Warnings = append(r.Warnings, fmt.Sprintf("level %d: %v", level.NProc, err))
				}
			}
		}
		for _, u := range level.Usage {
			w := row(u.WorkerID)
			w.PID = u.PID
			w.Exit = u.Exit.String()
			w.Real = u.Usage.RealSeconds()
			w.User = u.Usage.UserSeconds()
			w.Sys = u.Usage.SysSeconds()
			w.MaxRSSKiB = u.Usage.MaxRSSKiB
			w.VoluntarySwitches = u.Usage.VoluntarySwitches
			w.InvoluntarySwitches = u.Usage.InvoluntarySwitches
			w.HasUsage = true
			if !u.Exit.Success() {
				r.Warnings = append(r.Warnings,
					fmt.Sprintf("level %d: worker %d (pid %d) %s", level.NProc, u.WorkerID, u.PID, u.Exit))
			}
		}

		ids := make([]int, 0, len(rows))
		for id := range rows {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		for _, id := range ids {
			r.Workers = append(r.Workers, *rows[id])
		}
	}

	if !run.Complete {
		r.Warnings = append(r.Warnings, "run did not complete")
	}
	if r.Skipped > 0 {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%d malformed lines skipped", r.Skipped))
	}
	return r
}

// Table returns the primary table of the report: the concurrency metrics
// when the run swept levels, the per-worker rows otherwise.
func (r *Report) Table() (header []string, rows [][]string) {
	if len(r.Metrics) > 0 {
		header = []string{"NPROC", "AVG_TURNAROUND", "THROUGHPUT", "TOTAL_REAL"}
		for _, m := range r.Metrics {
			rows = append(rows, []string{
				fmt.Sprint(m.NProc),
				results.FormatFloat(m.AvgTurnaround),
				results.FormatFloat(m.Throughput),
				results.FormatFloat(m.TotalReal),
			})
		}
		return header, rows
	}

	header = []string{"NPROC", "WORKER", "PID", "EXIT", "FINAL_MS", "REAL", "USER", "SYS", "VCSW", "IVCSW"}
	for _, w := range r.Workers {
		rows = append(rows, []string{
			fmt.Sprint(w.NProc),
			fmt.Sprint(w.WorkerID),
			fmt.Sprint(w.PID),
			w.Exit,
			results.FormatFloat(w.FinalMs),
			results.FormatFloat(w.Real),
			results.FormatFloat(w.User),
			results.FormatFloat(w.Sys),
			fmt.Sprint(w.VoluntarySwitches),
			fmt.Sprint(w.InvoluntarySwitches),
		})
	}
	return header, rows
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted output to the buffer.
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry, replacing any
// existing formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
