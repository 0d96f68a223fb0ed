package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
)

// These tests share the package-level logging state and must not run in
// parallel.

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    logging.Level
		wantErr bool
	}{
		{"debug", logging.LevelDebug, false},
		{"INFO", logging.LevelInfo, false},
		{"warning", logging.LevelWarn, false},
		{"error", logging.LevelError, false},
		{"loud", logging.LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := logging.ParseLevel(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, logging.ErrInvalidLevel)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitRejectsInvalidLevels(t *testing.T) {
	dir := t.TempDir()

	err := logging.Init(logging.Config{Level: "verbose", Path: filepath.Join(dir, "a.log")})
	require.ErrorIs(t, err, logging.ErrInvalidLevel)

	err = logging.Init(logging.Config{
		Level:      "info",
		Path:       filepath.Join(dir, "b.log"),
		Components: map[string]string{"sweep": "chatty"},
	})
	require.ErrorIs(t, err, logging.ErrInvalidLevel)
}

func TestComponentLevelsAndFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedlab.log")
	require.NoError(t, logging.Init(logging.Config{
		Level:      "info",
		Path:       path,
		Components: map[string]string{"reaper": "debug"},
		Fields:     []interface{}{"worker", 7},
	}))
	t.Cleanup(func() { _ = logging.Close() })

	logging.Get("sweep").Debug("hidden debug")
	logging.Get("sweep").Info("level recorded", "nproc", 2)
	logging.Get("reaper").Debug("reaped", "pid", 1234)
	require.NoError(t, logging.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.NotContains(t, out, "hidden debug")
	assert.Contains(t, out, "level recorded")
	assert.Contains(t, out, "nproc=2")
	assert.Contains(t, out, "reaped")
	assert.Contains(t, out, "worker=7")
}

func TestGetReturnsSameLogger(t *testing.T) {
	require.NoError(t, logging.Init(logging.Config{Level: "info", Path: filepath.Join(t.TempDir(), "x.log")}))
	t.Cleanup(func() { _ = logging.Close() })

	assert.Same(t, logging.Get("calibrate"), logging.Get("calibrate"))
}

func TestLoggingBeforeInitIsSilent(t *testing.T) {
	require.NoError(t, logging.Close())
	assert.NotPanics(t, func() {
		logging.Get("early").Error("dropped")
	})
	assert.Empty(t, logging.Path())
}

func TestTUIModeBuffersEntries(t *testing.T) {
	require.NoError(t, logging.Init(logging.Config{
		Level:        "info",
		Path:         filepath.Join(t.TempDir(), "tui.log"),
		ConsoleLevel: "debug",
		TUIMode:      true,
	}))
	t.Cleanup(func() { _ = logging.Close() })

	buf := logging.GetLogBuffer()
	require.NotNil(t, buf)

	logger := logging.Get("sweep")
	logger.Debug("below level")
	logger.Info("first")
	logger.Warn("second")

	entries := buf.Last(10)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, logging.LevelWarn, entries[1].Level)
	assert.Equal(t, "sweep", entries[1].Component)
}

func TestSharedWritersInterleaveWholeLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.log")

	owner, err := logging.NewRotatingWriter(path, logging.DefaultRotationConfig())
	require.NoError(t, err)
	worker, err := logging.NewRotatingWriter(path, logging.RotationConfig{Shared: true})
	require.NoError(t, err)

	for i := range 50 {
		w := owner
		if i%2 == 1 {
			w = worker
		}
		_, err := w.Write([]byte(strings.Repeat("z", 40) + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, owner.Close())
	require.NoError(t, worker.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 50)
	for _, line := range lines {
		assert.Len(t, line, 40)
	}
}
