package history_test

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/schedlab/pkg/schedlab/history"
	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	id := history.NewRunID(results.KindCPUPerf, now)
	assert.Regexp(t, regexp.MustCompile(`^cpuperf-2026-06-15T10-30-00-[0-9a-f]{8}$`), id)
	assert.NotEqual(t, id, history.NewRunID(results.KindCPUPerf, now))
}

func TestStorePutGetDelete(t *testing.T) {
	s := openStore(t)

	entry := &history.Entry{ID: "sched-1", Kind: results.KindSched, Workers: 4}
	require.NoError(t, s.Put(entry))

	got, err := s.Get("sched-1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.Workers)
	assert.Equal(t, results.KindSched, got.Kind)

	require.NoError(t, s.Delete("sched-1"))
	_, err = s.Get("sched-1")
	require.ErrorIs(t, err, history.ErrNotFound)

	require.NoError(t, s.Delete("never-existed"))
}

func TestStoreList(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"sched-a", "cpuperf-b", "cpuperf-c"} {
		require.NoError(t, s.Put(&history.Entry{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	all, err := s.List(0, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "cpuperf-c", all[0].ID, "newest first")
	assert.Equal(t, "sched-a", all[2].ID)

	limited, err := s.List(1, "")
	require.NoError(t, err)
	require.Len(t, limited, 1)

	filtered, err := s.List(0, "cpuperf-*")
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	_, err = s.List(0, "[unclosed")
	require.Error(t, err)
}

func TestStoreCleanup(t *testing.T) {
	s := openStore(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	oldDir := t.TempDir()
	require.NoError(t, s.Put(&history.Entry{ID: "old", Dir: oldDir, FinishedAt: now.AddDate(0, 0, -40)}))
	require.NoError(t, s.Put(&history.Entry{ID: "new", FinishedAt: now.AddDate(0, 0, -1)}))

	removed, err := s.Cleanup(30*24*time.Hour, now, true)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "old", removed[0].ID)
	assert.NoDirExists(t, oldDir)

	entries, err := s.List(0, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new", entries[0].ID)
}

func TestSchema(t *testing.T) {
	s := openStore(t)
	schema := s.GetSchema()
	require.NotNil(t, schema)
	assert.Equal(t, history.CurrentSchemaVersion, schema.Version)
	assert.False(t, s.NeedsReindex())

	require.NoError(t, s.SetSchema(&history.Schema{Version: history.CurrentSchemaVersion + 1}))
	assert.True(t, s.NeedsReindex())
}

func writeRun(t *testing.T, root, id string, done bool) string {
	t.Helper()
	dir := filepath.Join(root, id)
	require.NoError(t, os.MkdirAll(results.LevelDir(dir, 1), 0o755))

	started := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, results.WriteMeta(dir, results.Meta{
		ID:          id,
		Kind:        results.KindCPUPerf,
		Mode:        "single",
		MaxNProc:    2,
		Checkpoints: 1,
		Calibration: types.CalibrationResult{LoopsPerMs: 1000},
		StartedAt:   started,
		FinishedAt:  started.Add(time.Minute),
	}))
	require.NoError(t, results.AppendMetric(filepath.Join(dir, results.SweepFile),
		types.ConcurrencyMetric{NProc: 1, AvgTurnaround: 1, Throughput: 1, TotalReal: 1}))
	require.NoError(t, results.AppendMetric(filepath.Join(dir, results.SweepFile),
		types.ConcurrencyMetric{NProc: 2, AvgTurnaround: 3, Throughput: 0.5, TotalReal: 4}))
	require.NoError(t, results.AppendUsage(filepath.Join(dir, results.UsageFile),
		types.WorkerUsage{NProc: 1, WorkerID: 0, PID: 10}))
	require.NoError(t, results.AppendUsage(filepath.Join(dir, results.UsageFile),
		types.WorkerUsage{NProc: 2, WorkerID: 0, PID: 11, Exit: types.ExitStatus{Code: 1}}))
	if done {
		require.NoError(t, results.MarkDone(dir, started.Add(time.Minute)))
	}
	return dir
}

func TestReindex(t *testing.T) {
	s := openStore(t)
	root := t.TempDir()

	dir := writeRun(t, root, "cpuperf-done", true)
	writeRun(t, root, "cpuperf-partial", false)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "stray"), 0o755))

	require.NoError(t, s.Put(&history.Entry{ID: "stale"}))

	stats, err := s.Reindex(root)
	require.NoError(t, err)
	assert.Equal(t, history.ReindexStats{Indexed: 1, Incomplete: 1}, stats)

	entries, err := s.List(0, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, "cpuperf-done", e.ID)
	assert.Equal(t, dir, e.Dir)
	assert.Equal(t, 2, e.Levels)
	assert.Equal(t, 2, e.Workers)
	assert.Equal(t, 1, e.Failed)
	assert.Equal(t, 1.0, e.PeakThroughput)
	assert.Equal(t, uint64(1000), e.LoopsPerMs)
}

func TestReindexMissingRoot(t *testing.T) {
	s := openStore(t)
	stats, err := s.Reindex(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Zero(t, stats.Indexed)
}
