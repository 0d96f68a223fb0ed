package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/schedlab/pkg/schedlab/affinity"
	"github.com/jamesainslie/schedlab/pkg/schedlab/sysproc"
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Measure how many work loops fit in one millisecond",
	Long: `Time the synthetic work unit on the configured CPU and print the
resulting loops-per-millisecond rate. Measuring commands calibrate on
their own; this command only shows what they would use.`,
	Args: cobra.NoArgs,
	RunE: runCalibrate,
}

func init() {
	rootCmd.AddCommand(calibrateCmd)
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := affinity.New(sysproc.New()).PinToCPU(cfg.CPU); err != nil {
		printVerbose("could not pin to CPU %d: %v", cfg.CPU, err)
	}

	cal := runCalibration(cfg.Calibration.Loops)
	if getQuiet() {
		fmt.Fprintln(os.Stdout, cal.LoopsPerMs)
		return nil
	}

	fmt.Fprintf(os.Stdout, "Loops:        %s\n", humanize.Comma(int64(cal.Loops)))
	fmt.Fprintf(os.Stdout, "Elapsed:      %s\n", cal.Elapsed)
	fmt.Fprintf(os.Stdout, "Rate:         %s\n", cal.HumanRate())
	fmt.Fprintf(os.Stdout, "CPU:          %d\n", cfg.CPU)
	return nil
}
