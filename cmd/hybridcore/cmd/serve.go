package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corvus-labs/hybridcore/internal/engine"
)

func newServeCmd() *cobra.Command {
	var numResults int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep a built index warm and answer queries read from stdin",
		Long: `Serve loads the persisted indexes once and then processes one query
per line of stdin, writing a JSON result line per query to stdout. This
keeps the embedder and indexes resident across many queries instead of
paying load cost per invocation, the way 'search' does.

Lines beginning with ':' are control commands:
  :flush   force-apply any pending incremental changes
  :stats   print current performance/incremental stats
  :quit    stop serving`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, numResults)
		},
	}

	cmd.Flags().IntVarP(&numResults, "limit", "n", 10, "Maximum number of results per query")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, numResults int) error {
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

	slog.Info("serving", "index_path", cfg.Engine.IndexPath)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			if shouldStop := handleControlCommand(ctx, e, out, enc, line); shouldStop {
				return nil
			}
			continue
		}

		results, err := e.Search(ctx, line, engine.SearchOptions{NumResults: numResults})
		if err != nil {
			enc.Encode(map[string]string{"error": err.Error()})
			continue
		}
		enc.Encode(toJSONResults(results))
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

func handleControlCommand(ctx context.Context, e *engine.Engine, out io.Writer, enc *json.Encoder, line string) (stop bool) {
	switch line {
	case ":quit":
		return true
	case ":flush":
		result, err := e.FlushPending(ctx)
		if err != nil {
			enc.Encode(map[string]string{"error": err.Error()})
			return false
		}
		enc.Encode(result)
		return false
	case ":stats":
		enc.Encode(map[string]any{
			"performance": e.PerformanceStats(),
			"incremental": e.IncrementalStats(),
		})
		return false
	default:
		fmt.Fprintf(out, "unknown command %s\n", strconv.Quote(line))
		return false
	}
}
