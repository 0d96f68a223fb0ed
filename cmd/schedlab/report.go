package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/schedlab/pkg/schedlab/export"
	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
)

var reportCmd = &cobra.Command{
	Use:   "report <run-id|dir>",
	Short: "Print the results of a recorded run",
	Long: `Load a run directory and print its metrics or per-worker results in the
selected output format. The argument may be a directory, a run id under
results_dir, or an id from the history catalog.

Interrupted runs are reported as far as their files go.`,
	Args: cobra.ExactArgs(1),
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "also write the run as a Prometheus textfile")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	dir, err := resolveRun(cfg, args[0])
	if err != nil {
		return err
	}

	run, err := results.LoadRun(dir)
	if err != nil {
		if errors.Is(err, results.ErrNotRun) {
			return fmt.Errorf("%s: %w", dir, err)
		}
		return err
	}
	if run.Stats.Skipped > 0 {
		printVerbose("%d malformed lines skipped", run.Stats.Skipped)
	}

	if metricsFile != "" {
		if err := export.WriteTextfile(metricsFile, snapshot(run)); err != nil {
			return err
		}
	}
	return render(cfg, run)
}

// isRunDir reports whether dir holds run metadata.
func isRunDir(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, results.MetaFile))
	return err == nil
}
