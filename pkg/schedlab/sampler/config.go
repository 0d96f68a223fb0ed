package sampler

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
)

// Config is everything a worker process receives on its command line.
type Config struct {
	ID            int
	LoopsPerMs    uint64
	Checkpoints   int
	Start         monoclock.Instant
	Dir           string
	CPURestricted bool
	CPU           int
	Nice          *int
	LogPath       string
	LogLevel      string
}

// Args encodes c as worker command-line flags.
func (c Config) Args() []string {
	args := []string{
		"--id=" + strconv.Itoa(c.ID),
		"--loops-per-ms=" + strconv.FormatUint(c.LoopsPerMs, 10),
		"--checkpoints=" + strconv.Itoa(c.Checkpoints),
		"--start=" + strconv.FormatInt(c.Start.Nanoseconds(), 10),
		"--dir=" + c.Dir,
	}
	if c.CPURestricted {
		args = append(args, "--cpu="+strconv.Itoa(c.CPU))
	}
	if c.Nice != nil {
		args = append(args, "--nice="+strconv.Itoa(*c.Nice))
	}
	if c.LogPath != "" {
		args = append(args, "--log-file="+c.LogPath)
	}
	if c.LogLevel != "" {
		args = append(args, "--log-level="+c.LogLevel)
	}
	return args
}

// ParseArgs decodes flags produced by Config.Args.
func ParseArgs(args []string) (Config, error) {
	var (
		c     Config
		start int64
		nice  int
	)

	fs := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.IntVar(&c.ID, "id", 0, "worker index within the level")
	fs.Uint64Var(&c.LoopsPerMs, "loops-per-ms", 0, "calibrated iterations per millisecond")
	fs.IntVar(&c.Checkpoints, "checkpoints", 0, "number of progress samples")
	fs.Int64Var(&start, "start", 0, "level start as a monotonic clock reading in ns")
	fs.StringVar(&c.Dir, "dir", "", "directory for the progress record")
	fs.IntVar(&c.CPU, "cpu", 0, "restrict to this cpu")
	fs.IntVar(&nice, "nice", 0, "niceness delta")
	fs.StringVar(&c.LogPath, "log-file", "", "shared log file")
	fs.StringVar(&c.LogLevel, "log-level", "", "log level")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse worker flags: %w", err)
	}

	c.Start = monoclock.Instant(start)
	c.CPURestricted = fs.Changed("cpu")
	if fs.Changed("nice") {
		c.Nice = &nice
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports a configuration a worker cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ID < 0 {
		errs = append(errs, fmt.Errorf("id %d is negative", c.ID))
	}
	if c.LoopsPerMs == 0 {
		errs = append(errs, errors.New("loops-per-ms must be positive"))
	}
	if c.Checkpoints <= 0 {
		errs = append(errs, errors.New("checkpoints must be positive"))
	}
	if c.Dir == "" {
		errs = append(errs, errors.New("dir is required"))
	}
	if c.CPURestricted && c.CPU < 0 {
		errs = append(errs, fmt.Errorf("cpu %d is negative", c.CPU))
	}
	return errors.Join(errs...)
}
