package recordwatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

type collector struct {
	mu       sync.Mutex
	arrivals []Arrival
}

func (c *collector) add(a Arrival) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arrivals = append(c.arrivals, a)
}

func (c *collector) snapshot() []Arrival {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Arrival(nil), c.arrivals...)
}

func startWatcher(t *testing.T, root string) (*Watcher, *collector) {
	t.Helper()
	w, err := New()
	require.NoError(t, err)
	require.NoError(t, w.Watch(root))

	ctx, cancel := context.WithCancel(context.Background())
	c := &collector{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, c.add)
	}()
	t.Cleanup(func() {
		cancel()
		_ = w.Close()
		<-done
	})
	return w, c
}

func record(id int) types.ProgressRecord {
	return types.ProgressRecord{WorkerID: id, Samples: []types.Checkpoint{{ElapsedMs: 1, Index: 0}}}
}

func TestArrivalsInWatchedLevel(t *testing.T) {
	root := t.TempDir()
	level := results.LevelDir(root, 3)
	require.NoError(t, os.MkdirAll(level, 0o755))

	_, c := startWatcher(t, root)

	for id := range 3 {
		require.NoError(t, results.WriteProgress(level, record(id)))
	}
	// Files that are not records are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(level, "notes.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 3 }, 5*time.Second, 10*time.Millisecond)

	seen := map[int]bool{}
	for _, a := range c.snapshot() {
		assert.Equal(t, 3, a.NProc)
		seen[a.WorkerID] = true
	}
	assert.Len(t, seen, 3)
}

func TestNewLevelDirectoriesAreWatched(t *testing.T) {
	root := t.TempDir()
	w, c := startWatcher(t, root)

	level := results.LevelDir(root, 1)
	require.NoError(t, os.MkdirAll(level, 0o755))
	require.Eventually(t, func() bool { return w.Watching(level) }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, results.WriteProgress(level, record(0)))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, filepath.Join(level, "0.data"), c.snapshot()[0].Path)
}

func TestHandleCreateIgnoresNonLevelDirs(t *testing.T) {
	root := t.TempDir()
	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	other := filepath.Join(root, "scratch")
	require.NoError(t, os.MkdirAll(other, 0o755))
	_, ok := w.handleCreate(other)
	assert.False(t, ok)
	assert.False(t, w.Watching(other))

	stray := filepath.Join(other, "0.data")
	require.NoError(t, os.WriteFile(stray, nil, 0o644))
	_, ok = w.handleCreate(stray)
	assert.False(t, ok)
}

func TestCloseIsIdempotent(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.NoError(t, w.Watch(t.TempDir()))
}
