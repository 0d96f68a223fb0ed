package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// CalibrationConfig configures the calibration run.
type CalibrationConfig struct {
	Loops uint64 `mapstructure:"loops"`
}

// HistoryConfig configures the run catalog.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Config represents the application configuration.
type Config struct {
	ResultsDir  string            `mapstructure:"results_dir"`
	Checkpoints int               `mapstructure:"checkpoints"`
	CPU         int               `mapstructure:"cpu"`
	Output      string            `mapstructure:"output"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	History     HistoryConfig     `mapstructure:"history"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// Validate reports settings no experiment can run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ResultsDir == "" {
		errs = append(errs, errors.New("results_dir must be set"))
	}
	if c.Checkpoints < 1 {
		errs = append(errs, fmt.Errorf("checkpoints must be at least 1, got %d", c.Checkpoints))
	}
	if c.CPU < 0 {
		errs = append(errs, fmt.Errorf("cpu must not be negative, got %d", c.CPU))
	}
	if c.Calibration.Loops == 0 {
		errs = append(errs, errors.New("calibration.loops must be positive"))
	}
	return errors.Join(errs...)
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("results_dir", DefaultResultsDir())
	v.SetDefault("checkpoints", DefaultCheckpoints)
	v.SetDefault("cpu", DefaultCPU)
	v.SetDefault("output", DefaultOutput)
	v.SetDefault("calibration.loops", DefaultCalibrationLoops)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryPath())
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{
		"sweep":   "info",
		"spawner": "info",
		"reaper":  "info",
		"worker":  "warn",
	})
}

// Configure prepares v to read config.yaml from the config directory (or
// file, when set) and SCHEDLAB_* environment variables.
func Configure(v *viper.Viper, file string) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
}

// ReadInConfig reads the config file into v. A missing file is not an
// error.
func ReadInConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// FromViper decodes the effective configuration held by v and expands ~
// in paths.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.ResultsDir, &cfg.History.Path, &cfg.Logging.Path} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	return &cfg, nil
}

// Load reads configuration from the default locations and environment.
// Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/schedlab/config.yaml
//   - $HOME/.config/schedlab/config.yaml
func Load() (*Config, error) {
	v := viper.New()
	Configure(v, "")
	if err := ReadInConfig(v); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// ConfigDir returns the configuration directory.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "schedlab"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "schedlab"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// WriteDefault writes a commented default config file if none exists and
// returns its path.
func WriteDefault() (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# schedlab configuration

# Where run directories are created
results_dir: %s

# Progress samples recorded by each worker
checkpoints: %d

# Core used by single-CPU experiments
cpu: %d

# Default report format (pretty, plain, tsv, csv, markdown, json, jsonl, yaml)
output: %s

calibration:
  # Work iterations timed to derive loops per millisecond
  loops: %d

# Catalog of finished runs
history:
  enabled: true
  path: %s
  retention_days: %d

logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means $XDG_STATE_HOME/schedlab/schedlab.log)
  path: ""
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  components:
    sweep: info
    spawner: info
    reaper: info
    worker: warn
`, DefaultResultsDir(), DefaultCheckpoints, DefaultCPU, DefaultOutput,
		DefaultCalibrationLoops, DefaultHistoryPath(), DefaultRetentionDays)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write default config: %w", err)
	}
	return path, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/schedlab.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "schedlab")
}

// StateDir returns $XDG_STATE_HOME/schedlab.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "schedlab")
}

// DefaultResultsDir returns the default parent of run directories.
func DefaultResultsDir() string {
	return filepath.Join(DataDir(), "runs")
}

// DefaultHistoryPath returns the default catalog database directory.
func DefaultHistoryPath() string {
	return filepath.Join(DataDir(), "history.db")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "schedlab.log")
}
