package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/schedlab/pkg/schedlab/config"
	"github.com/jamesainslie/schedlab/pkg/schedlab/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs",
	Long: `List the runs recorded in the history catalog, newest first.

The catalog only summarises runs; the run directories under results_dir
remain the source of truth and 'schedlab history reindex' rebuilds the
catalog from them.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the catalog entry of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove runs older than the retention period",
	Long: `Remove catalog entries of runs that finished more than
history.retention_days ago, together with their run directories unless
--keep-dirs is given.`,
	Args: cobra.NoArgs,
	RunE: runHistoryClean,
}

var historyReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the catalog from the results directory",
	Args:  cobra.NoArgs,
	RunE:  runHistoryReindex,
}

var (
	historyLimit    int
	historyFilter   string
	historyKeepDirs bool
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCmd.Flags().StringVarP(&historyFilter, "filter", "f", "", "only show ids matching this glob, e.g. 'cpuperf-*'")
	historyCleanCmd.Flags().BoolVar(&historyKeepDirs, "keep-dirs", false, "keep run directories on disk")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	historyCmd.AddCommand(historyReindexCmd)
	rootCmd.AddCommand(historyCmd)
}

// openHistory opens the configured catalog.
func openHistory(cmd *cobra.Command) (*config.Config, *history.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}
	if store.NeedsReindex() {
		printVerbose("history schema is outdated, run 'schedlab history reindex'")
	}
	return cfg, store, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	_, store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(historyLimit, historyFilter)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(entries) == 0 {
		printInfo("No runs recorded.")
		printInfo("Run 'schedlab cpuperf' to measure a sweep.")
		return nil
	}

	fmt.Printf("\n%-44s  %-10s  %-10s  %6s  %8s  %10s\n", "ID", "STARTED", "MODE", "NPROC", "WORKERS", "PEAK/S")
	fmt.Println(strings.Repeat("-", 98))
	for _, e := range entries {
		workers := fmt.Sprintf("%d", e.Workers)
		if e.Failed > 0 {
			workers = fmt.Sprintf("%d(%d!)", e.Workers, e.Failed)
		}
		fmt.Printf("%-44s  %-10s  %-10s  %6d  %8s  %10.3f\n",
			truncateString(e.ID, 44),
			humanize.Time(e.StartedAt),
			e.Mode,
			e.MaxNProc,
			workers,
			e.PeakThroughput,
		)
	}
	fmt.Println(strings.Repeat("-", 98))
	fmt.Printf("\nShowing %d entries. Use --limit to see more.\n", len(entries))
	fmt.Println("Use 'schedlab report <id>' for the full results of a run.")
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	_, store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	fmt.Println("\nRun Details")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("ID:           %s\n", e.ID)
	fmt.Printf("Kind:         %s\n", e.Kind)
	fmt.Printf("Mode:         %s\n", e.Mode)
	fmt.Printf("Directory:    %s\n", e.Dir)
	fmt.Printf("Started:      %s\n", e.StartedAt.Local().Format("2006-01-02 15:04:05 MST"))
	if !e.FinishedAt.IsZero() {
		fmt.Printf("Duration:     %s\n", e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond))
	}
	fmt.Printf("Max nproc:    %d\n", e.MaxNProc)
	fmt.Printf("Checkpoints:  %d\n", e.Checkpoints)
	if e.Nice != nil {
		fmt.Printf("Nice:         %d\n", *e.Nice)
	}
	fmt.Printf("Rate:         %s loops/ms\n", humanize.Comma(int64(e.LoopsPerMs)))
	fmt.Printf("Levels:       %d\n", e.Levels)
	fmt.Printf("Workers:      %d (%d failed)\n", e.Workers, e.Failed)
	if e.Levels > 0 {
		fmt.Printf("Peak:         %.3f jobs/s\n", e.PeakThroughput)
	}
	return nil
}

func runHistoryClean(cmd *cobra.Command, args []string) error {
	cfg, store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	days := cfg.History.RetentionDays
	if days <= 0 {
		days = config.DefaultRetentionDays
	}
	printInfo("Removing runs older than %d days...", days)

	removed, err := store.Cleanup(time.Duration(days)*24*time.Hour, time.Now(), !historyKeepDirs)
	for _, e := range removed {
		printVerbose("removed %s", e.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	printInfo("Removed %d runs.", len(removed))
	return nil
}

func runHistoryReindex(cmd *cobra.Command, args []string) error {
	cfg, store, err := openHistory(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	printInfo("Indexing %s...", cfg.ResultsDir)
	stats, err := store.Reindex(cfg.ResultsDir)
	if err != nil {
		return fmt.Errorf("failed to reindex: %w", err)
	}

	printInfo("Indexed %d runs (%d incomplete, %d unreadable).", stats.Indexed, stats.Incomplete, stats.Failed)
	return nil
}

// resolveRun maps a report argument to a run directory: an existing
// directory, a run id under results_dir, or a catalog id.
func resolveRun(cfg *config.Config, arg string) (string, error) {
	if isRunDir(arg) {
		return arg, nil
	}
	if dir := filepath.Join(cfg.ResultsDir, arg); isRunDir(dir) {
		return dir, nil
	}
	if !cfg.History.Enabled {
		return "", fmt.Errorf("no run %q in %s", arg, cfg.ResultsDir)
	}

	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	e, err := store.Get(arg)
	if errors.Is(err, history.ErrNotFound) {
		return "", fmt.Errorf("no run %q in %s or history", arg, cfg.ResultsDir)
	}
	if err != nil {
		return "", err
	}
	return e.Dir, nil
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
