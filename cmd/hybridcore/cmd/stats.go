package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corvus-labs/hybridcore/internal/engine"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query performance and incremental-update statistics",
		Long: `Stats loads the persisted indexes and reports performance_stats()
(total searches, average response time, cache hit rate) and
incremental_stats() (processed/successful/failed changes, queue size).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	e, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}
	defer e.Close()

	if err := e.LoadIndexes(ctx); err != nil {
		return fmt.Errorf("load indexes: %w", err)
	}

	perf := e.PerformanceStats()
	inc := e.IncrementalStats()

	if jsonOutput {
		return printStatsJSON(cmd, perf, inc)
	}
	return printStatsText(cmd, perf, inc)
}

func printStatsJSON(cmd *cobra.Command, perf engine.PerformanceStats, inc engine.IncrementalStats) error {
	out := struct {
		Performance engine.PerformanceStats `json:"performance"`
		Incremental engine.IncrementalStats `json:"incremental"`
	}{perf, inc}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printStatsText(cmd *cobra.Command, perf engine.PerformanceStats, inc engine.IncrementalStats) error {
	w := cmd.OutOrStdout()

	fmt.Fprintln(w, "Performance")
	fmt.Fprintln(w, "-----------")
	fmt.Fprintf(w, "Total searches:    %d\n", perf.TotalSearches)
	fmt.Fprintf(w, "Avg response time: %.3fms\n", perf.AvgResponseTimeMs)
	fmt.Fprintf(w, "Cache hit rate:    %.2f%%\n", perf.CacheHitRate*100)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Incremental updates")
	fmt.Fprintln(w, "--------------------")
	fmt.Fprintf(w, "Total processed: %d\n", inc.TotalProcessed)
	fmt.Fprintf(w, "Successful:      %d\n", inc.Successful)
	fmt.Fprintf(w, "Failed:          %d\n", inc.Failed)
	fmt.Fprintf(w, "Queue size:      %d\n", inc.QueueSize)
	fmt.Fprintf(w, "Processing:      %t\n", inc.IsProcessing)
	if inc.LastUpdateTime != nil {
		fmt.Fprintf(w, "Last update:     %s\n", inc.LastUpdateTime.Format("2006-01-02T15:04:05Z07:00"))
	}

	return nil
}
