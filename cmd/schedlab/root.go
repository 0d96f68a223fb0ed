package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/schedlab/pkg/schedlab/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "schedlab",
		Short: "Measure how the scheduler shares CPUs between busy processes",
		Long: `schedlab calibrates a CPU-bound unit of work, runs it in several worker
processes at once and records how far each worker got over time, how much
CPU it was given and how long the whole group took.

Examples:
  schedlab sched 3             # three workers sharing CPU 0
  schedlab nice 5              # two workers, the second one niced by 5
  schedlab multiload -m 4      # four workers spread over every CPU
  schedlab cpuperf 8           # sweep 1..8 workers on one CPU
  schedlab cpuperf -m --tui    # sweep on every CPU with a live view
  schedlab report <run-id>     # re-render a finished run
  schedlab history             # list finished runs`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initializeLogging,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/schedlab/config.yaml)")
	rootCmd.PersistentFlags().String("results-dir", "", "parent directory of run directories")
	rootCmd.PersistentFlags().Uint64("loops", 0, "calibration iterations (0 = configured default)")
	rootCmd.PersistentFlags().IntP("checkpoints", "k", 0, "progress samples per worker (0 = configured default)")
	rootCmd.PersistentFlags().IntP("cpu", "c", -1, "core for single-CPU experiments (-1 = configured default)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "report format: pretty, plain, tsv, csv, markdown, json, jsonl, yaml, template")
	rootCmd.PersistentFlags().String("template", "", "Go template for -o template")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug output")

	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("template", rootCmd.PersistentFlags().Lookup("template"))
}

// initConfig reads in config file and environment variables.
func initConfig() {
	config.Configure(viper.GetViper(), cfgFile)
	if err := config.ReadInConfig(viper.GetViper()); err != nil {
		printError("%v", err)
	}
}

// loadConfig returns the effective configuration: defaults, then the
// config file and environment, then any flag the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("results-dir") {
		dir, _ := flags.GetString("results-dir")
		if cfg.ResultsDir, err = config.ExpandPath(dir); err != nil {
			return nil, err
		}
	}
	if flags.Changed("loops") {
		if loops, _ := flags.GetUint64("loops"); loops > 0 {
			cfg.Calibration.Loops = loops
		}
	}
	if flags.Changed("checkpoints") {
		cfg.Checkpoints, _ = flags.GetInt("checkpoints")
	}
	if flags.Changed("cpu") {
		if cpu, _ := flags.GetInt("cpu"); cpu >= 0 {
			cfg.CPU = cpu
		}
	}
	if flags.Changed("output") {
		cfg.Output, _ = flags.GetString("output")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError("%v", err)
	}
	return err
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// getQuiet returns true if quiet mode is enabled.
func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Printf(format+"\n", args...)
	}
}

// printStatus prints progress to stderr so that stdout carries only the
// report.
func printStatus(format string, args ...interface{}) {
	if !getQuiet() && !liveView {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
