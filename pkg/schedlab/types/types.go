// Package types provides the core data types for the schedlab harness.
// It includes the calibration result, worker specifications and handles,
// progress records, resource accounting and the per-level metrics produced
// by a concurrency sweep, along with the sentinel errors shared by every
// component.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
)

// DefaultCheckpoints is the number of progress samples each worker records.
const DefaultCheckpoints = 100

// Sentinel errors shared by the harness components.
var (
	// ErrInvalidConcurrency indicates a worker count below one.
	ErrInvalidConcurrency = errors.New("concurrency must be at least 1")

	// ErrSpawn indicates that a worker process could not be started.
	ErrSpawn = errors.New("spawn worker")

	// ErrReap indicates that waiting on a worker process failed.
	ErrReap = errors.New("reap worker")

	// ErrNotOutstanding indicates a reap of a handle that was never
	// spawned or has already been reaped.
	ErrNotOutstanding = errors.New("worker is not outstanding")

	// ErrMalformedLine indicates a record line that could not be parsed.
	ErrMalformedLine = errors.New("malformed record line")

	// ErrInvalidMode indicates an unknown CPU mode name.
	ErrInvalidMode = errors.New("invalid cpu mode")
)

// Mode selects how workers are placed on CPUs.
type Mode int

const (
	// ModeSingleCPU confines every worker to one core.
	ModeSingleCPU Mode = iota

	// ModeMultiCPU lets workers run on any online core.
	ModeMultiCPU
)

// String returns the mode name used in files and reports.
func (m Mode) String() string {
	switch m {
	case ModeSingleCPU:
		return "single"
	case ModeMultiCPU:
		return "multi"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses a mode name as produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "single-cpu":
		return ModeSingleCPU, nil
	case "multi", "multi-cpu":
		return ModeMultiCPU, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// CalibrationResult is the measured rate of the synthetic work unit.
// It is computed once per invocation and never recomputed by workers.
type CalibrationResult struct {
	// LoopsPerMs is the number of work iterations that take about one
	// millisecond of CPU time on this host.
	LoopsPerMs uint64 `json:"loops_per_ms" yaml:"loops_per_ms"`

	// Loops is the iteration count the calibration ran.
	Loops uint64 `json:"loops" yaml:"loops"`

	// Elapsed is the wall-clock time the calibration took.
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`
}

// HumanRate returns LoopsPerMs with thousands separators.
func (c CalibrationResult) HumanRate() string {
	return humanize.Comma(int64(c.LoopsPerMs)) + " loops/ms"
}

// WorkerSpec describes a worker before it is launched. The orchestrator
// builds specs and never mutates them after spawn.
type WorkerSpec struct {
	// ID is the worker index within its level, starting at 0.
	ID int `json:"id"`

	// CPURestricted confines the worker to CPU.
	CPURestricted bool `json:"cpu_restricted"`

	// CPU is the core used when CPURestricted is set.
	CPU int `json:"cpu"`

	// NiceDelta, when non-nil, is added to the worker's niceness.
	// Positive values lower its scheduling preference.
	NiceDelta *int `json:"nice_delta,omitempty"`
}

// WorkerHandle identifies a launched worker until it is reaped.
type WorkerHandle struct {
	// ID is the worker index within its level.
	ID int `json:"id"`

	// PID is the operating system process id.
	PID int `json:"pid"`

	// Start is the instant the worker was spawned.
	Start monoclock.Instant `json:"start"`
}

// Checkpoint is one progress sample.
type Checkpoint struct {
	// ElapsedMs is the time since the level start, in milliseconds.
	ElapsedMs float64 `json:"elapsed_ms"`

	// Index is the checkpoint ordinal, 0..K-1.
	Index int `json:"index"`
}

// ProgressRecord is the ordered checkpoint series of one worker.
type ProgressRecord struct {
	// WorkerID is the worker that produced the record.
	WorkerID int `json:"worker_id"`

	// Samples holds exactly K checkpoints in index order.
	Samples []Checkpoint `json:"samples"`
}

// Final returns the elapsed time at the last checkpoint, or 0 for an
// empty record.
func (r ProgressRecord) Final() float64 {
	if len(r.Samples) == 0 {
		return 0
	}
	return r.Samples[len(r.Samples)-1].ElapsedMs
}

// Validate checks that the record holds k samples with consecutive
// indices and non-decreasing elapsed times.
func (r ProgressRecord) Validate(k int) error {
	if len(r.Samples) != k {
		return fmt.Errorf("worker %d: %d samples, want %d", r.WorkerID, len(r.Samples), k)
	}
	for i, s := range r.Samples {
		if s.Index != i {
			return fmt.Errorf("worker %d: sample %d has index %d", r.WorkerID, i, s.Index)
		}
		if i > 0 && s.ElapsedMs < r.Samples[i-1].ElapsedMs {
			return fmt.Errorf("worker %d: elapsed decreases at index %d", r.WorkerID, i)
		}
	}
	return nil
}

// ResourceUsage is the accounting harvested when a worker is reaped.
type ResourceUsage struct {
	// Real is the wall-clock time from spawn to reap.
	Real time.Duration `json:"real"`

	// User is the CPU time spent in user mode.
	User time.Duration `json:"user"`

	// Sys is the CPU time spent in kernel mode.
	Sys time.Duration `json:"sys"`

	// MaxRSSKiB is the peak resident set size in KiB.
	MaxRSSKiB int64 `json:"max_rss_kib,omitempty"`

	// VoluntarySwitches counts context switches the worker gave up.
	VoluntarySwitches int64 `json:"voluntary_switches,omitempty"`

	// InvoluntarySwitches counts context switches forced on the worker.
	InvoluntarySwitches int64 `json:"involuntary_switches,omitempty"`
}

// RealSeconds returns Real in seconds.
func (u ResourceUsage) RealSeconds() float64 { return u.Real.Seconds() }

// UserSeconds returns User in seconds.
func (u ResourceUsage) UserSeconds() float64 { return u.User.Seconds() }

// SysSeconds returns Sys in seconds.
func (u ResourceUsage) SysSeconds() float64 { return u.Sys.Seconds() }

// ExitStatus describes how a worker terminated.
type ExitStatus struct {
	// Code is the exit code, or -1 when the worker was signaled.
	Code int `json:"code"`

	// Signaled is set when a signal terminated the worker.
	Signaled bool `json:"signaled,omitempty"`

	// Signal names the terminating signal.
	Signal string `json:"signal,omitempty"`
}

// Success reports whether the worker exited normally with code 0.
func (e ExitStatus) Success() bool {
	return !e.Signaled && e.Code == 0
}

// String returns a short description such as "exit 0" or "signal killed".
func (e ExitStatus) String() string {
	if e.Signaled {
		return "signal " + e.Signal
	}
	return fmt.Sprintf("exit %d", e.Code)
}

// WorkerUsage pairs a reaped worker with its accounting.
type WorkerUsage struct {
	NProc    int           `json:"nproc"`
	WorkerID int           `json:"worker_id"`
	PID      int           `json:"pid"`
	Exit     ExitStatus    `json:"exit"`
	Usage    ResourceUsage `json:"usage"`
}

// ConcurrencyMetric is the aggregate result of one concurrency level.
type ConcurrencyMetric struct {
	// NProc is the number of concurrent workers.
	NProc int `json:"nproc" yaml:"nproc"`

	// AvgTurnaround is the average worker turnaround in seconds.
	AvgTurnaround float64 `json:"avg_turnaround" yaml:"avg_turnaround"`

	// Throughput is completed workers per second.
	Throughput float64 `json:"throughput" yaml:"throughput"`

	// TotalReal is the wall-clock span of the level in seconds.
	TotalReal float64 `json:"total_real" yaml:"total_real"`
}

// LevelState is the lifecycle of one concurrency level.
type LevelState int

const (
	LevelIdle LevelState = iota
	LevelSpawning
	LevelRunning
	LevelReaping
	LevelRecorded
	LevelAborted
)

var levelStateNames = [...]string{
	LevelIdle:     "idle",
	LevelSpawning: "spawning",
	LevelRunning:  "running",
	LevelReaping:  "reaping",
	LevelRecorded: "recorded",
	LevelAborted:  "aborted",
}

// String returns the lower-case state name.
func (s LevelState) String() string {
	if s < 0 || int(s) >= len(levelStateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return levelStateNames[s]
}

// Terminal reports whether no further transitions follow s.
func (s LevelState) Terminal() bool {
	return s == LevelRecorded || s == LevelAborted
}
