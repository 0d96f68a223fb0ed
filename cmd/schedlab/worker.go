package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/schedlab/pkg/schedlab/logging"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sampler"
	"github.com/jamesainslie/schedlab/pkg/schedlab/spawner"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
)

// workerCmd is the entry point of every spawned worker. Its flags are
// produced by sampler.Config.Args and are not meant to be typed by hand.
var workerCmd = &cobra.Command{
	Use:                spawner.WorkerCommand,
	Short:              "Run one measured worker (internal)",
	Hidden:             true,
	DisableFlagParsing: true,
	// Workers log to the controller's file and never touch the user's
	// config or directories.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:               runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := sampler.ParseArgs(args)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if level == "" {
		level = "warn"
	}
	if err := logging.Init(logging.Config{
		Level:  level,
		Path:   cfg.LogPath,
		Shared: true,
		Fields: []interface{}{"worker_id", cfg.ID},
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logging.Close() }()

	return sampler.NewWorker(cfg, sysproc.New()).Run()
}
