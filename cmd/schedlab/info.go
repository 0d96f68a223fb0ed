package main

import (
	"fmt"
	"runtime"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/schedlab/pkg/schedlab/tuner"
	"github.com/jamesainslie/schedlab/pkg/schedlab/types"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show detected CPUs and memory and the suggested sweep sizes",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	resources, err := tuner.Detect()
	if err != nil {
		printVerbose("resource detection incomplete: %v", err)
	}

	fmt.Printf("Platform:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("CPUs:         %d\n", resources.CPUCores)
	if resources.Online.Size() > 0 {
		fmt.Printf("Online:       %s\n", resources.Online.String())
	}
	if resources.Allowed.Size() > 0 {
		fmt.Printf("Allowed:      %s\n", resources.Allowed.String())
	}
	if resources.TotalRAM > 0 {
		fmt.Printf("Memory:       %s total, %s available\n",
			humanize.IBytes(uint64(resources.TotalRAM)), humanize.IBytes(uint64(resources.AvailableRAM)))
	}

	fmt.Println("\nSuggested sweeps:")
	for _, mode := range []types.Mode{types.ModeSingleCPU, types.ModeMultiCPU} {
		s := tuner.Suggest(resources, mode)
		note := ""
		if s.MemoryBound {
			note = "  (limited by memory)"
		}
		fmt.Printf("  %-10s  cpuperf %s%d  on CPU %d%s\n", mode, modeFlag(mode), s.MaxNProc, s.CPU, note)
	}
	return nil
}

func modeFlag(mode types.Mode) string {
	if mode == types.ModeMultiCPU {
		return "-m "
	}
	return ""
}
