package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvus-labs/hybridcore/internal/store"
)

// jsonDocument is the on-disk shape documents are read from. It mirrors
// store.Document field-for-field since that type carries no json tags of
// its own (it's an in-memory record, not a wire format).
type jsonDocument struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Experience      string   `json:"experience"`
	Projects        string   `json:"projects"`
	Skills          []string `json:"skills"`
	Technologies    []string `json:"technologies"`
	ExperienceYears int      `json:"experience_years"`
	SeniorityLevel  string   `json:"seniority_level"`
}

func newBuildCmd() *cobra.Command {
	var inputPath string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the HNSW/LSH/BM25 indexes from a JSON document corpus",
		Long: `Build reads a JSON array of documents, embeds them, constructs the
ANN, BM25, and LSH indexes from scratch, and persists the result to the
configured index path.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), cmd, inputPath)
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "Path to a JSON file containing an array of documents (required)")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, inputPath string) error {
	docs, err := loadDocuments(inputPath)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	e, err := newEngine(cfg)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}
	defer e.Close()

	if err := e.BuildIndexes(ctx, docs); err != nil {
		return fmt.Errorf("build indexes: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "built index for %d documents at %s\n", len(docs), cfg.Engine.IndexPath)
	return nil
}

func loadDocuments(path string) ([]*store.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read documents file %s: %w", path, err)
	}

	var jsonDocs []jsonDocument
	if err := json.Unmarshal(data, &jsonDocs); err != nil {
		return nil, fmt.Errorf("parse documents file %s: %w", path, err)
	}

	docs := make([]*store.Document, len(jsonDocs))
	for i, jd := range jsonDocs {
		docs[i] = &store.Document{
			ID:              jd.ID,
			Name:            jd.Name,
			Title:           jd.Title,
			Description:     jd.Description,
			Experience:      jd.Experience,
			Projects:        jd.Projects,
			Skills:          jd.Skills,
			Technologies:    jd.Technologies,
			ExperienceYears: jd.ExperienceYears,
			SeniorityLevel:  jd.SeniorityLevel,
		}
	}
	return docs, nil
}
