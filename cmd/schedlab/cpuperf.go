package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/schedlab/pkg/schedlab/export"
	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sweep"
	"github.com/jamesainslie/schedlab/pkg/schedlab/tuner"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

var cpuperfCmd = &cobra.Command{
	Use:   "cpuperf [-m] [max]",
	Short: "Sweep 1..max concurrent workers and derive turnaround and throughput",
	Long: `Run levels of 1, 2, ... max concurrent workers, one level at a time, and
append "<nproc>\t<avg_turnaround>\t<throughput>" to cpuperf.data
in the run directory after each level.

Without max the sweep depth is chosen from the detected CPUs and memory
(see 'schedlab info'). With --metrics-file the finished sweep is also
written in the Prometheus textfile format.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCPUPerf,
}

func init() {
	cpuperfCmd.Flags().BoolVarP(&multiCPU, "multi", "m", false, "let workers use every online CPU")
	cpuperfCmd.Flags().BoolVar(&liveView, "tui", false, "show a live view while levels run")
	cpuperfCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "also write the sweep as a Prometheus textfile")
	rootCmd.AddCommand(cpuperfCmd)
}

func runCPUPerf(cmd *cobra.Command, args []string) error {
	mode := modeFor(multiCPU)

	var maxNProc int
	if len(args) == 1 {
		n, err := parseConcurrency(args[0])
		if err != nil {
			return err
		}
		maxNProc = n
	} else {
		resources, err := tuner.Detect()
		if err != nil {
			printVerbose("resource detection incomplete: %v", err)
		}
		maxNProc = tuner.Suggest(resources, mode).MaxNProc
		printStatus("Sweeping up to %d workers", maxNProc)
	}

	e, err := startExperiment(cmd, results.KindCPUPerf, mode, maxNProc, nil)
	if err != nil {
		return err
	}

	var recorded []types.ConcurrencyMetric
	err = e.execute(levelRange(maxNProc), func(o *sweep.Orchestrator) error {
		var err error
		recorded, err = o.Sweep(maxNProc)
		return err
	})
	if err != nil {
		if !getQuiet() {
			for _, m := range recorded {
				fmt.Fprintln(os.Stderr, results.FormatMetric(m))
			}
		}
		return fmt.Errorf("run %s stopped after %d of %d levels: %w", e.meta.ID, len(recorded), maxNProc, err)
	}

	run, err := e.finish()
	if err != nil {
		return err
	}

	if metricsFile != "" {
		if err := export.WriteTextfile(metricsFile, snapshot(run)); err != nil {
			return err
		}
		printStatus("Metrics: %s", metricsFile)
	}

	return render(e.cfg, run)
}

// snapshot flattens run for export.
func snapshot(run *results.Run) export.Snapshot {
	mode, err := types.ParseMode(run.Meta.Mode)
	if err != nil {
		mode = types.ModeSingleCPU
	}
	snap := export.Snapshot{
		RunID:       run.Meta.ID,
		Mode:        mode,
		Calibration: run.Meta.Calibration,
		Metrics:     run.Metrics,
	}
	for _, level := range run.Levels {
		snap.Usage = append(snap.Usage, level.Usage...)
	}
	return snap
}
