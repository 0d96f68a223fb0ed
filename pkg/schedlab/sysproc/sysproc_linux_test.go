//go:build linux

package sysproc

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"k8s.io/utils/cpuset"
)

func TestSpawnAndWaitExitCode(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	p := New()
	pid, err := p.Spawn(Command{Path: sh, Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	require.Positive(t, pid)

	status, usage, err := p.WaitWithUsage(pid)
	require.NoError(t, err)
	assert.Equal(t, 3, status.ExitCode)
	assert.False(t, status.Signaled)
	assert.GreaterOrEqual(t, int64(usage.User), int64(0))
	assert.Positive(t, usage.MaxRSSKiB)

	// A reaped pid cannot be waited on twice.
	_, _, err = p.WaitWithUsage(pid)
	require.ErrorIs(t, err, unix.ECHILD)
}

func TestKillReportsSignal(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	p := New()
	pid, err := p.Spawn(Command{Path: sleep, Args: []string{"30"}})
	require.NoError(t, err)
	require.NoError(t, p.Kill(pid))

	status, _, err := p.WaitWithUsage(pid)
	require.NoError(t, err)
	assert.True(t, status.Signaled)
	assert.Equal(t, "killed", status.Signal)
}

func TestSpawnMissingBinary(t *testing.T) {
	_, err := New().Spawn(Command{Path: "/nonexistent/schedlab-worker"})
	require.Error(t, err)
}

func TestSetAffinitySelfRoundTrip(t *testing.T) {
	var orig unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &orig))

	first := -1
	for i := range 1024 {
		if orig.IsSet(i) {
			first = i
			break
		}
	}
	require.GreaterOrEqual(t, first, 0)

	p := New()
	require.NoError(t, p.SetAffinity(Self, cpuset.New(first)))

	var now unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &now))
	assert.Equal(t, 1, now.Count())
	assert.True(t, now.IsSet(first))

	// Restore every thread.
	var cpus []int
	for i := range 1024 {
		if orig.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	require.NoError(t, p.SetAffinity(Self, cpuset.New(cpus...)))
}

func TestSetAffinityEmptySet(t *testing.T) {
	require.Error(t, New().SetAffinity(Self, cpuset.New()))
}

func TestSetPriorityOnChild(t *testing.T) {
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep not available")
	}

	p := New()
	pid, err := p.Spawn(Command{Path: sleep, Args: []string{"30"}, Stderr: os.Stderr})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Kill(pid)
		_, _, _ = p.WaitWithUsage(pid)
	})

	before, err := unix.Getpriority(unix.PRIO_PROCESS, pid)
	require.NoError(t, err)

	require.NoError(t, p.SetPriority(pid, 5))

	after, err := unix.Getpriority(unix.PRIO_PROCESS, pid)
	require.NoError(t, err)
	wantNice := clampNice(20 - before + 5)
	assert.Equal(t, wantNice, 20-after)
}
