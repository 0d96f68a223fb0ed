package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	t.Setenv("XDG_CONFIG_HOME", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultCheckpoints, cfg.Checkpoints)
	assert.Equal(t, DefaultCPU, cfg.CPU)
	assert.Equal(t, DefaultOutput, cfg.Output)
	assert.Equal(t, DefaultCalibrationLoops, cfg.Calibration.Loops)
	assert.True(t, cfg.History.Enabled)
	assert.Equal(t, DefaultRetentionDays, cfg.History.RetentionDays)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "warn", cfg.Logging.Components["worker"])
	assert.NotEmpty(t, cfg.ResultsDir)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("HOME", tempDir)
	configDir := filepath.Join(tempDir, "xdg", "schedlab")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tempDir, "xdg"))

	content := `
results_dir: ~/experiments
checkpoints: 20
cpu: 3
calibration:
  loops: 5000000
history:
  enabled: false
  retention_days: 7
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tempDir, "experiments"), cfg.ResultsDir)
	assert.Equal(t, 20, cfg.Checkpoints)
	assert.Equal(t, 3, cfg.CPU)
	assert.Equal(t, uint64(5_000_000), cfg.Calibration.Loops)
	assert.False(t, cfg.History.Enabled)
	assert.Equal(t, 7, cfg.History.RetentionDays)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("SCHEDLAB_CHECKPOINTS", "12")
	t.Setenv("SCHEDLAB_CALIBRATION_LOOPS", "1000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Checkpoints)
	assert.Equal(t, uint64(1000), cfg.Calibration.Loops)
}

func TestMalformedConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("checkpoints: [unclosed"), 0o644))

	v := viper.New()
	Configure(v, path)
	require.Error(t, ReadInConfig(v))
}

func TestMissingExplicitConfigFileIsIgnored(t *testing.T) {
	v := viper.New()
	Configure(v, filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, ReadInConfig(v))
}

func TestValidate(t *testing.T) {
	cfg := Config{ResultsDir: "r", Checkpoints: 0, CPU: -1}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoints")
	assert.Contains(t, err.Error(), "cpu")
	assert.Contains(t, err.Error(), "calibration.loops")
}

func TestWriteDefault(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tempDir)

	path, err := WriteDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempDir, "schedlab", "config.yaml"), path)

	v := viper.New()
	Configure(v, path)
	require.NoError(t, ReadInConfig(v))
	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, DefaultCheckpoints, cfg.Checkpoints)
	assert.Equal(t, DefaultCalibrationLoops, cfg.Calibration.Loops)

	// Existing files are left alone.
	require.NoError(t, os.WriteFile(path, []byte("cpu: 2\n"), 0o644))
	_, err = WriteDefault()
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "cpu: 2\n", string(data))
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := ExpandPath("~/runs")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "runs"), got)

	got, err = ExpandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", got)
}
