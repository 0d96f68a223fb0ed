package spawner

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sampler"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc/sysproctest"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

func newSpawner(t *testing.T, fake *sysproctest.Fake, clock monoclock.Clock) *Spawner {
	t.Helper()
	s, err := New(fake, clock, Config{
		Executable:  "/usr/bin/schedlab",
		Calibration: types.CalibrationResult{LoopsPerMs: 5000},
		Checkpoints: 10,
		Start:       monoclock.Instant(123456789),
		Dir:         "/tmp/run/level-002",
		LogPath:     "/tmp/schedlab.log",
		LogLevel:    "debug",
	})
	require.NoError(t, err)
	return s
}

func TestSpawnPassesWorkerConfig(t *testing.T) {
	clock := monoclock.NewManual(monoclock.Instant(time.Second), 0)
	fake := sysproctest.New(clock, time.Millisecond)
	s := newSpawner(t, fake, clock)

	nice := 5
	h, err := s.Spawn(types.WorkerSpec{ID: 1, CPURestricted: true, CPU: 0, NiceDelta: &nice})
	require.NoError(t, err)
	assert.Equal(t, 1, h.ID)
	assert.Equal(t, 1000, h.PID)
	assert.Equal(t, monoclock.Instant(time.Second), h.Start)

	spawned := fake.Spawned()
	require.Len(t, spawned, 1)
	cmd := spawned[0]
	assert.Equal(t, "/usr/bin/schedlab", cmd.Path)
	require.NotEmpty(t, cmd.Args)
	assert.Equal(t, WorkerCommand, cmd.Args[0])

	wc, err := sampler.ParseArgs(cmd.Args[1:])
	require.NoError(t, err)
	assert.Equal(t, 1, wc.ID)
	assert.Equal(t, uint64(5000), wc.LoopsPerMs)
	assert.Equal(t, 10, wc.Checkpoints)
	assert.Equal(t, monoclock.Instant(123456789), wc.Start)
	assert.Equal(t, "/tmp/run/level-002", wc.Dir)
	assert.True(t, wc.CPURestricted)
	assert.Equal(t, 0, wc.CPU)
	require.NotNil(t, wc.Nice)
	assert.Equal(t, 5, *wc.Nice)
	assert.Equal(t, "debug", wc.LogLevel)
}

func TestSpawnUnrestricted(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	s := newSpawner(t, sysproctest.New(clock, 0), clock)

	wc, err := sampler.ParseArgs(s.Command(types.WorkerSpec{ID: 0}).Args[1:])
	require.NoError(t, err)
	assert.False(t, wc.CPURestricted)
	assert.Nil(t, wc.Nice)
}

func TestSpawnFailureWrapsErrSpawn(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	fake := sysproctest.New(clock, 0)
	boom := errors.New("fork: resource temporarily unavailable")
	fake.SpawnErr = func(int, sysproc.Command) error { return boom }

	_, err := newSpawner(t, fake, clock).Spawn(types.WorkerSpec{ID: 2})
	require.ErrorIs(t, err, types.ErrSpawn)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "spawn worker 2")
}

func TestSpawnKeepsStartedWorkerDespiteError(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	fake := sysproctest.New(clock, time.Millisecond)
	fake.StartErr = func(int, int) error { return errors.New("release: bad handle") }

	h, err := newSpawner(t, fake, clock).Spawn(types.WorkerSpec{ID: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, h.ID)
	assert.Positive(t, h.PID)
	assert.Equal(t, 1, fake.Outstanding())

	_, _, err = fake.WaitWithUsage(h.PID)
	require.NoError(t, err)
	assert.Equal(t, []int{h.PID}, fake.Reaped())
}

func TestNewDefaultsToSelf(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	s, err := New(sysproctest.New(clock, 0), clock, Config{})
	require.NoError(t, err)
	assert.NotEmpty(t, s.cfg.Executable)
	assert.Equal(t, []string{WorkerCommand}, s.cfg.Prefix)
}
