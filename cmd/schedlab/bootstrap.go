package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/schedlab/pkg/schedlab/config"
	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
)

// initializeLogging is the root PersistentPreRunE hook. It creates the
// XDG directories and starts the rotating log file that workers append to.
func initializeLogging(cmd *cobra.Command, args []string) error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	for _, dir := range []string{configDir, config.DataDir(), config.StateDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	tuiMode := false
	if cmd != nil {
		if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
			level = f.Value.String()
		}
		if f := cmd.Flags().Lookup("tui"); f != nil && f.Value.String() == "true" {
			tuiMode = true
		}
	}

	consoleLevel := ""
	if getVerbose() {
		consoleLevel = "debug"
		level = "debug"
	}

	return logging.Init(logging.Config{
		Level:        level,
		Path:         cfg.Logging.Path,
		Rotation:     parseRotationConfig(cfg.Logging.Rotation),
		Components:   cfg.Logging.Components,
		ConsoleLevel: consoleLevel,
		TUIMode:      tuiMode,
	})
}

// parseRotationConfig converts the configured rotation settings. An empty
// or unparsable max_size keeps the default.
func parseRotationConfig(rc config.RotationConfig) logging.RotationConfig {
	out := logging.RotationConfig{
		MaxSize:    logging.DefaultRotationConfig().MaxSize,
		MaxAge:     rc.MaxAge,
		MaxBackups: rc.MaxBackups,
		Daily:      rc.Daily,
	}
	if rc.MaxSize != "" {
		if size, err := humanize.ParseBytes(rc.MaxSize); err == nil && size > 0 {
			out.MaxSize = int64(size)
		}
	}
	return out
}
