package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/schedlab/pkg/schedlab/results"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sweep"
)

var multiloadCmd = &cobra.Command{
	Use:   "multiload [-m] <nproc>",
	Short: "Run nproc workers at once and report their real, user and sys time",
	Long: `Run nproc workers concurrently and report each worker's real, user and
sys time as measured when it was reaped. Without -m every worker is
confined to one CPU; with -m they may run on any online CPU.`,
	Args: cobra.ExactArgs(1),
	RunE: runMultiload,
}

func init() {
	multiloadCmd.Flags().BoolVarP(&multiCPU, "multi", "m", false, "let workers use every online CPU")
	multiloadCmd.Flags().BoolVar(&liveView, "tui", false, "show a live view while workers run")
	rootCmd.AddCommand(multiloadCmd)
}

func runMultiload(cmd *cobra.Command, args []string) error {
	nproc, err := parseConcurrency(args[0])
	if err != nil {
		return err
	}

	e, err := startExperiment(cmd, results.KindMultiload, modeFor(multiCPU), nproc, nil)
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
	return render(e.cfg, run)
}
