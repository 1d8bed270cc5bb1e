// Package cmd provides the CLI commands for hybridcore.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/corvus-labs/hybridcore/pkg/version"
)

var configPath string

// NewRootCmd creates the root command for the hybridcore CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hybridcore",
		Short: "Hybrid HNSW/LSH/BM25 search engine",
		Long: `hybridcore builds and queries a hybrid search index combining
approximate nearest-neighbor vector search (HNSW), LSH candidate recall,
and BM25 keyword scoring under a fixed linear fusion.

It runs entirely in-process with no external services required.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("hybridcore version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configPath, "config", "hybridcore.yaml", "Path to the engine's YAML config file")

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
