package reaper

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/schedlab/pkg/schedlab/monoclock"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc/sysproctest"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

func spawn(t *testing.T, fake *sysproctest.Fake, clock monoclock.Clock, r *Reaper, id int) types.WorkerHandle {
	t.Helper()
	pid, err := fake.Spawn(sysproc.Command{Path: "worker"})
	require.NoError(t, err)
	h := types.WorkerHandle{ID: id, PID: pid, Start: clock.Now()}
	r.Track(h)
	return h
}

func TestReapMeasuresRealFromSpawn(t *testing.T) {
	clock := monoclock.NewManual(monoclock.Instant(time.Hour), 0)
	fake := sysproctest.New(clock, 100*time.Millisecond)
	r := New(fake, clock)

	h0 := spawn(t, fake, clock, r, 0)
	h1 := spawn(t, fake, clock, r, 1)
	assert.Equal(t, 2, r.Outstanding())

	status, usage, err := r.Reap(h0)
	require.NoError(t, err)
	assert.True(t, status.Success())
	assert.Equal(t, 100*time.Millisecond, usage.Real)
	assert.Equal(t, 100*time.Millisecond, usage.User)
	assert.Equal(t, int64(2048), usage.MaxRSSKiB)

	// Serialised on one CPU: the second worker finishes after the first.
	_, usage, err = r.Reap(h1)
	require.NoError(t, err)
	assert.Equal(t, 200*time.Millisecond, usage.Real)
	assert.Zero(t, r.Outstanding())
}

func TestReapTwiceFails(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	fake := sysproctest.New(clock, time.Millisecond)
	r := New(fake, clock)

	h := spawn(t, fake, clock, r, 0)
	_, _, err := r.Reap(h)
	require.NoError(t, err)

	_, _, err = r.Reap(h)
	require.ErrorIs(t, err, types.ErrNotOutstanding)
	assert.Len(t, fake.Reaped(), 1)
}

func TestReapUnknownHandle(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	r := New(sysproctest.New(clock, 0), clock)

	_, _, err := r.Reap(types.WorkerHandle{ID: 9, PID: 4242})
	require.ErrorIs(t, err, types.ErrNotOutstanding)
}

func TestReapMismatchedID(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	fake := sysproctest.New(clock, time.Millisecond)
	r := New(fake, clock)

	h := spawn(t, fake, clock, r, 0)
	_, _, err := r.Reap(types.WorkerHandle{ID: 5, PID: h.PID})
	require.ErrorIs(t, err, types.ErrNotOutstanding)
	assert.Equal(t, 1, r.Outstanding())
}

type failingWait struct {
	*sysproctest.Fake
}

var errWait = errors.New("wait failed")

func (failingWait) WaitWithUsage(int) (sysproc.WaitStatus, sysproc.Usage, error) {
	return sysproc.WaitStatus{}, sysproc.Usage{}, errWait
}

func TestReapWaitFailure(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	fake := sysproctest.New(clock, time.Millisecond)
	r := New(failingWait{fake}, clock)

	h := spawn(t, fake, clock, r, 0)
	_, _, err := r.Reap(h)
	require.ErrorIs(t, err, types.ErrReap)
	require.ErrorIs(t, err, errWait)
}

func TestReapKilledWorker(t *testing.T) {
	clock := monoclock.NewManual(0, 0)
	fake := sysproctest.New(clock, time.Second)
	r := New(fake, clock)

	h := spawn(t, fake, clock, r, 0)
	require.NoError(t, fake.Kill(h.PID))

	status, usage, err := r.Reap(h)
	require.NoError(t, err)
	assert.True(t, status.Signaled)
	assert.Equal(t, "signal killed", status.String())
	assert.Zero(t, usage.Real)
}
