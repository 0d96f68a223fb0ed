package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sweep"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

var schedCmd = &cobra.Command{
	Use:   "sched <nproc>",
	Short: "Run nproc workers together on one CPU",
	Long: `Run nproc workers at the same time, all confined to one CPU, and record
each worker's progress over time.

Besides the per-worker records the run directory gets a combined table,
sched-<nproc>.data, with one "<worker>\t<elapsed_ms>\t<checkpoint>" row per
checkpoint, ready for plotting.`,
	Args: cobra.ExactArgs(1),
	RunE: runSched,
}

var niceCmd = &cobra.Command{
	Use:   "nice <value>",
	Short: "Run two workers on one CPU, the second one reniced by value",
	Long: `Run two workers confined to one CPU. The second worker's niceness is
raised by value (positive values lower its priority, so it gets less CPU
time and finishes last). The combined table is written as
sched-nice-<value>.data.

Negative values need a "--" first: schedlab nice -- -5`,
	Args: cobra.ExactArgs(1),
	RunE: runNice,
}

func init() {
	schedCmd.Flags().BoolVar(&liveView, "tui", false, "show a live view while workers run")
	niceCmd.Flags().BoolVar(&liveView, "tui", false, "show a live view while workers run")

	rootCmd.AddCommand(schedCmd)
	rootCmd.AddCommand(niceCmd)
}

func runSched(cmd *cobra.Command, args []string) error {
	nproc, err := parseConcurrency(args[0])
	if err != nil {
		return err
	}
	return runSingleLevel(cmd, results.KindSched, nproc, nil, fmt.Sprintf("sched-%d.data", nproc))
}

func runNice(cmd *cobra.Command, args []string) error {
	nice, err := parseNice(args[0])
	if err != nil {
		return err
	}
	return runSingleLevel(cmd, results.KindNice, 2, &nice, fmt.Sprintf("sched-nice-%d.data", nice))
}

// runSingleLevel runs one single-CPU level and writes its combined table.
func runSingleLevel(cmd *cobra.Command, kind results.Kind, nproc int, nice *int, combined string) error {
	e, err := startExperiment(cmd, kind, types.ModeSingleCPU, nproc, nice)
	if err != nil {
		return err
	}

	err = e.execute([]int{nproc}, func(o *sweep.Orchestrator) error {
		_, err := o.RunLevel(nproc)
		return err
	})
	if err != nil {
		return fmt.Errorf("run %s incomplete: %w", e.meta.ID, err)
	}

	run, err := e.finish()
	if err != nil {
		return err
	}

	path := filepath.Join(e.dir, combined)
	for _, level := range run.Levels {
		if level.NProc != nproc {
			continue
		}
		if err := results.WriteCombined(path, level.Records); err != nil {
			return err
		}
		printStatus("Combined table: %s", path)
	}

	return render(e.cfg, run)
}
