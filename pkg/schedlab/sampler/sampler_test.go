package sampler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/cpuset"

	"github.com/jamesainslie/schedlab/pkg/schedlab/affinity"
	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc/sysproctest"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

// stepSpin advances clock by one millisecond per call, standing in for a
// checkpoint of calibrated work.
func stepSpin(clock *monoclock.Manual, got *[]uint64) func(uint64) {
	return func(n uint64) {
		*got = append(*got, n)
		clock.Advance(time.Millisecond)
	}
}

func TestRunRecordsKCheckpoints(t *testing.T) {
	start := monoclock.Instant(10 * time.Second)
	clock := monoclock.NewManual(start.Add(3*time.Millisecond), 0)
	var spins []uint64

	rec := Run(types.CalibrationResult{LoopsPerMs: 777}, start, 5, clock, stepSpin(clock, &spins))

	require.NoError(t, rec.Validate(5))
	assert.Equal(t, []uint64{777, 777, 777, 777, 777}, spins)
	// Elapsed includes the 3ms between level start and the first checkpoint.
	assert.InDelta(t, 4.0, rec.Samples[0].ElapsedMs, 1e-9)
	assert.InDelta(t, 8.0, rec.Final(), 1e-9)
}

func TestRunWithRealClockIsMonotonic(t *testing.T) {
	clock := monoclock.System{}
	rec := Run(types.CalibrationResult{LoopsPerMs: 1000}, clock.Now(), types.DefaultCheckpoints, clock, func(uint64) {})
	require.NoError(t, rec.Validate(types.DefaultCheckpoints))
	assert.GreaterOrEqual(t, rec.Samples[0].ElapsedMs, 0.0)
}

func TestConfigArgsRoundTrip(t *testing.T) {
	nice := -3
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "restricted with nice",
			cfg: Config{
				ID: 4, LoopsPerMs: 12345, Checkpoints: 100, Start: 987654321,
				Dir: "/runs/x/level-005", CPURestricted: true, CPU: 2, Nice: &nice,
				LogPath: "/state/schedlab.log", LogLevel: "warn",
			},
		},
		{
			name: "unrestricted",
			cfg:  Config{ID: 0, LoopsPerMs: 1, Checkpoints: 1, Dir: "d"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.cfg.Args())
			require.NoError(t, err)
			assert.Equal(t, tt.cfg, got)
		})
	}
}

func TestParseArgsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing rate", []string{"--checkpoints=1", "--dir=d"}, "loops-per-ms"},
		{"missing dir", []string{"--loops-per-ms=1", "--checkpoints=1"}, "dir is required"},
		{"zero checkpoints", []string{"--loops-per-ms=1", "--dir=d"}, "checkpoints"},
		{"negative cpu", []string{"--loops-per-ms=1", "--checkpoints=1", "--dir=d", "--cpu=-1"}, "cpu -1"},
		{"unknown flag", []string{"--bogus"}, "parse worker flags"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWorkerRun(t *testing.T) {
	dir := t.TempDir()
	clock := monoclock.NewManual(0, 0)
	fake := sysproctest.New(clock, 0)
	nice := 19
	var spins []uint64

	w := NewWorker(Config{
		ID: 1, LoopsPerMs: 50, Checkpoints: 4, Dir: dir,
		CPURestricted: true, CPU: 0, Nice: &nice,
	}, fake,
		WithClock(clock),
		WithSpin(stepSpin(clock, &spins)),
		WithAffinity(affinity.New(fake, affinity.WithOnline(func() (cpuset.CPUSet, error) {
			return cpuset.New(0, 1), nil
		}))),
	)
	require.NoError(t, w.Run())

	mask, ok := fake.Affinity(sysproc.Self)
	require.True(t, ok)
	assert.Equal(t, []int{0}, mask.List())
	assert.Equal(t, 19, fake.Priority(sysproc.Self))

	rec, stats, err := results.ReadProgress(results.ProgressPath(dir, 1))
	require.NoError(t, err)
	assert.Zero(t, stats.Skipped)
	assert.Equal(t, 1, rec.WorkerID)
	require.NoError(t, rec.Validate(4))
	assert.InDelta(t, 4.0, rec.Final(), 1e-9)
}

func TestWorkerRunUnrestrictedWidensAffinity(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	fake := sysproctest.New(clock, 0)

	w := NewWorker(Config{ID: 0, LoopsPerMs: 1, Checkpoints: 1, Dir: t.TempDir()}, fake,
		WithClock(clock),
		WithSpin(func(uint64) {}),
		WithAffinity(affinity.New(fake, affinity.WithOnline(func() (cpuset.CPUSet, error) {
			return cpuset.New(0, 1, 2, 3), nil
		}))),
	)
	require.NoError(t, w.Run())

	mask, ok := fake.Affinity(sysproc.Self)
	require.True(t, ok)
	assert.Equal(t, 4, mask.Size())
	assert.Zero(t, fake.Priority(sysproc.Self))
}

func TestWorkerRunUnwritableDir(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	fake := sysproctest.New(clock, 0)

	w := NewWorker(Config{ID: 2, LoopsPerMs: 1, Checkpoints: 1, Dir: "/nonexistent/schedlab"}, fake,
		WithClock(clock), WithSpin(func(uint64) {}))
	err := w.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker 2")
}
