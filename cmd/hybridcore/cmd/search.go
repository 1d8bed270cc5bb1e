package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/corvus-labs/hybridcore/internal/engine"
	"github.com/corvus-labs/hybridcore/internal/store"
)

type searchOptions struct {
	numResults      int
	jsonOutput      bool
	minExperience   int
	maxExperience   int
	requiredSkills  []string
	excludedSkills  []string
	seniorityLevels []string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid search query against a previously built index",
		Long: `Search loads the persisted indexes, embeds the query, and returns
results fused from HNSW vector similarity, LSH Jaccard similarity, and
BM25 keyword scoring under the fixed 0.4/0.3/0.3 blend.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.numResults, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON regardless of terminal")
	cmd.Flags().IntVar(&opts.minExperience, "min-experience", -1, "Filter: minimum years of experience")
	cmd.Flags().IntVar(&opts.maxExperience, "max-experience", -1, "Filter: maximum years of experience")
	cmd.Flags().StringSliceVar(&opts.requiredSkills, "require-skill", nil, "Filter: required skill (repeatable)")
	cmd.Flags().StringSliceVar(&opts.excludedSkills, "exclude-skill", nil, "Filter: excluded skill (repeatable)")
	cmd.Flags().StringSliceVar(&opts.seniorityLevels, "seniority", nil, "Filter: allowed seniority level (repeatable)")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
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

	results, err := e.Search(ctx, query, engine.SearchOptions{
		NumResults: opts.numResults,
		Filter:     buildFilter(opts),
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	asJSON := opts.jsonOutput || !isatty.IsTerminal(os.Stdout.Fd())
	if asJSON {
		return printResultsJSON(cmd, results)
	}
	return printResultsText(cmd, query, results)
}

func buildFilter(opts searchOptions) *store.Filter {
	if opts.minExperience < 0 && opts.maxExperience < 0 &&
		len(opts.requiredSkills) == 0 && len(opts.excludedSkills) == 0 && len(opts.seniorityLevels) == 0 {
		return nil
	}

	f := &store.Filter{}
	if opts.minExperience >= 0 {
		v := opts.minExperience
		f.MinExperience = &v
	}
	if opts.maxExperience >= 0 {
		v := opts.maxExperience
		f.MaxExperience = &v
	}
	f.RequiredSkills = toLowerSet(opts.requiredSkills)
	f.ExcludedSkills = toLowerSet(opts.excludedSkills)
	f.SeniorityLevels = toSet(opts.seniorityLevels)
	return f
}

func toLowerSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// jsonResult is the CLI's wire shape for a search hit; store.SearchResult
// itself carries no json tags since it's an in-memory record, not an API
// response.
type jsonResult struct {
	DocID           string   `json:"doc_id"`
	Name            string   `json:"name,omitempty"`
	CombinedScore   float64  `json:"combined_score"`
	SimilarityScore float64  `json:"vector_similarity"`
	JaccardScore    float64  `json:"jaccard_similarity"`
	BM25Score       float64  `json:"bm25_score"`
	Skills          []string `json:"skills,omitempty"`
}

func toJSONResults(results []*store.SearchResult) []jsonResult {
	out := make([]jsonResult, len(results))
	for i, r := range results {
		jr := jsonResult{
			DocID:           r.DocID,
			CombinedScore:   r.CombinedScore,
			SimilarityScore: r.SimilarityScore,
			JaccardScore:    r.JaccardScore,
			BM25Score:       r.BM25Score,
		}
		if r.Metadata != nil {
			jr.Name = r.Metadata.Name
			jr.Skills = r.Metadata.Skills
		}
		out[i] = jr
	}
	return out
}

func printResultsJSON(cmd *cobra.Command, results []*store.SearchResult) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(toJSONResults(results))
}

func printResultsText(cmd *cobra.Command, query string, results []*store.SearchResult) error {
	w := cmd.OutOrStdout()

	if len(results) == 0 {
		fmt.Fprintf(w, "no results for %q\n", query)
		return nil
	}

	fmt.Fprintf(w, "%d results for %q:\n\n", len(results), query)
	for i, r := range results {
		name := ""
		if r.Metadata != nil {
			name = r.Metadata.Name
		}
		fmt.Fprintf(w, "%d. %s (%s) — combined %.4f\n", i+1, r.DocID, name, r.CombinedScore)
		fmt.Fprintf(w, "   vector=%.4f jaccard=%.4f bm25=%.4f\n", r.SimilarityScore, r.JaccardScore, r.BM25Score)
	}
	return nil
}
