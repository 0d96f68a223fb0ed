// Package spawner launches worker processes by re-executing the current
// binary with the hidden worker subcommand.
package spawner

import (
	"fmt"
	"os"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sampler"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// WorkerCommand is the subcommand a worker is started with.
const WorkerCommand = "worker"

// Config is shared by every worker of one level.
type Config struct {
	// Executable is the binary to run. Empty uses os.Executable.
	Executable string

	// Prefix precedes the worker flags, normally []string{WorkerCommand}.
	Prefix []string

	// Env is the worker environment. Nil inherits the caller's.
	Env []string

	Calibration types.CalibrationResult
	Checkpoints int

	// Start is the level start instant workers measure elapsed time from.
	Start monoclock.Instant

	// Dir receives the progress records.
	Dir string

	LogPath  string
	LogLevel string

	// Stderr receives worker stderr. Nil discards it.
	Stderr *os.File
}

// Spawner starts workers for one level.
type Spawner struct {
	platform sysproc.Platform
	clock    monoclock.Clock
	cfg      Config
}

// New returns a Spawner. It resolves the executable eagerly so that a
// missing binary fails before any worker starts.
func New(platform sysproc.Platform, clock monoclock.Clock, cfg Config) (*Spawner, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("%w: resolve executable: %w", types.ErrSpawn, err)
		}
		cfg.Executable = exe
	}
	if cfg.Prefix == nil {
		cfg.Prefix = []string{WorkerCommand}
	}
	return &Spawner{platform: platform, clock: clock, cfg: cfg}, nil
}

// Command builds the command line for spec.
func (s *Spawner) Command(spec types.WorkerSpec) sysproc.Command {
	wc := sampler.Config{
		ID:            spec.ID,
		LoopsPerMs:    s.cfg.Calibration.LoopsPerMs,
		Checkpoints:   s.cfg.Checkpoints,
		Start:         s.cfg.Start,
		Dir:           s.cfg.Dir,
		CPURestricted: spec.CPURestricted,
		CPU:           spec.CPU,
		Nice:          spec.NiceDelta,
		LogPath:       s.cfg.LogPath,
		LogLevel:      s.cfg.LogLevel,
	}

	args := make([]string, 0, len(s.cfg.Prefix)+10)
	args = append(args, s.cfg.Prefix...)
	args = append(args, wc.Args()...)

	return sysproc.Command{
		Path:   s.cfg.Executable,
		Args:   args,
		Env:    s.cfg.Env,
		Stderr: s.cfg.Stderr,
	}
}

// Spawn starts the worker for spec. The worker applies its own placement
// and priority before doing any work.
func (s *Spawner) Spawn(spec types.WorkerSpec) (types.WorkerHandle, error) {
	cmd := s.Command(spec)
	start := s.clock.Now()

	pid, err := s.platform.Spawn(cmd)
	switch {
	case err != nil && pid > 0:
		// The child is running and must still be reaped.
		logging.Get("spawner").Warn("spawned with error",
			"worker", spec.ID,
			"pid", pid,
			"error", err,
		)
	case err != nil:
		return types.WorkerHandle{}, fmt.Errorf("%w %d: %w", types.ErrSpawn, spec.ID, err)
	}

	logging.Get("spawner").Debug("spawned",
		"worker", spec.ID,
		"pid", pid,
		"restricted", spec.CPURestricted,
		"cpu", spec.CPU,
	)
	return types.WorkerHandle{ID: spec.ID, PID: pid, Start: start}, nil
}
