package cmd

import (
	"fmt"

	"github.com/corvus-labs/hybridcore/internal/embedding"
	"github.com/corvus-labs/hybridcore/internal/engine"
	"github.com/corvus-labs/hybridcore/internal/hconfig"
)

// defaultEmbeddingDim is used when a config file doesn't set one; the
// StaticEmbedder has no fixed natural dimension, so the CLI picks one
// suitable for small demo corpora.
const defaultEmbeddingDim = 256

// loadConfig reads the YAML config at configPath, filling in an index
// path and embedding dimension when the file is absent, so the CLI works
// with zero configuration. A config file that does exist must set both,
// since hconfig.Load validates it.
func loadConfig() (hconfig.Config, error) {
	cfg, err := hconfig.Load(configPath)
	if err != nil {
		return hconfig.Config{}, fmt.Errorf("load config: %w", err)
	}

	if cfg.Engine.EmbeddingDim <= 0 {
		cfg.Engine.EmbeddingDim = defaultEmbeddingDim
	}
	if cfg.Engine.IndexPath == "" {
		cfg.Engine.IndexPath = hconfig.DefaultIndexPath()
	}

	return *cfg, nil
}

// newEngine constructs an Engine from the resolved config, wrapping a
// deterministic StaticEmbedder in the LRU memoization layer so repeated
// CLI invocations over the same queries skip redundant embedding calls.
func newEngine(cfg hconfig.Config) (*engine.Engine, error) {
	embedder := embedding.NewCachedEmbedderWithDefaults(embedding.NewStaticEmbedder(cfg.Engine.EmbeddingDim))
	return engine.NewEngine(cfg, embedder)
}
