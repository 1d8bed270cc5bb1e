// Package hconfig loads and validates the engine's configuration:
// embedding/index parameters, the query cache, the incremental-update
// manager's batching policy, and logging.
package hconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for a hybridcore engine instance.
type Config struct {
	Engine      EngineConfig      `yaml:"engine" json:"engine"`
	Cache       CacheConfig       `yaml:"cache" json:"cache"`
	Incremental IncrementalConfig `yaml:"incremental" json:"incremental"`
	Logging     LoggingConfig     `yaml:"logging" json:"logging"`
}

// EngineConfig configures the embedding dimension, index location, and
// embedding model used to build and query the indexes.
type EngineConfig struct {
	// EmbeddingDim is the dimensionality of every vector the engine stores.
	// Required; all embeddings must match this exactly.
	EmbeddingDim int `yaml:"embedding_dim" json:"embedding_dim"`

	// UseGPU hints the Embedder implementation to use GPU acceleration, if
	// it supports one. The core itself does no GPU work.
	UseGPU bool `yaml:"use_gpu" json:"use_gpu"`

	// IndexPath is the directory the three persistence files live under.
	IndexPath string `yaml:"index_path" json:"index_path"`

	// EmbeddingModelName is passed through to the Embedder so it can
	// select/validate its model.
	EmbeddingModelName string `yaml:"embedding_model_name" json:"embedding_model_name"`
}

// CacheConfig configures the FIFO query-result cache.
type CacheConfig struct {
	// Capacity is the maximum number of distinct (query, top_k, filter)
	// cache entries kept before the oldest is evicted.
	Capacity int `yaml:"capacity" json:"capacity"`
}

// IncrementalConfig configures the background incremental-update manager.
type IncrementalConfig struct {
	// BatchSize is the pending-change count that triggers an immediate
	// flush.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// FlushInterval is how often the background worker wakes to check for
	// pending work.
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`

	// StalenessTimeout is the max age of the oldest pending change before
	// a flush is forced even under BatchSize.
	StalenessTimeout time.Duration `yaml:"staleness_timeout" json:"staleness_timeout"`

	// TombstoneThreshold is the cumulative deleted-but-unreclaimed document
	// count that schedules a full ANN rebuild.
	TombstoneThreshold int `yaml:"tombstone_threshold" json:"tombstone_threshold"`

	// MaxPending bounds the number of distinct documents the queue holds
	// at once. Enqueuing beyond it evicts the oldest-enqueued pending
	// entry (by arrival order, not by its consolidated kind) and logs.
	MaxPending int `yaml:"max_pending" json:"max_pending"`
}

// LoggingConfig configures the engine's structured logger.
type LoggingConfig struct {
	Level         string `yaml:"level" json:"level"`
	FilePath      string `yaml:"file_path" json:"file_path"`
	MaxSizeMB     int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles      int    `yaml:"max_files" json:"max_files"`
	WriteToStderr bool   `yaml:"write_to_stderr" json:"write_to_stderr"`
}

// NewConfig returns a Config with sensible defaults. EmbeddingDim and
// IndexPath are left zero/empty; callers must set them (directly, or via
// Load of a YAML file) before constructing an engine.
func NewConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Capacity: 1000,
		},
		Incremental: IncrementalConfig{
			BatchSize:          50,
			FlushInterval:      5 * time.Second,
			StalenessTimeout:   30 * time.Second,
			TombstoneThreshold: 100,
			MaxPending:         10000,
		},
		Logging: LoggingConfig{
			Level:         "info",
			MaxSizeMB:     50,
			MaxFiles:      5,
			WriteToStderr: true,
		},
	}
}

// Load reads a YAML configuration file at path and merges it over the
// defaults. A missing file is not an error: defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-valued fields left empty by a partial YAML
// document, so a config file only needs to name what it overrides.
func (c *Config) applyDefaults() {
	defaults := NewConfig()

	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = defaults.Cache.Capacity
	}
	if c.Incremental.BatchSize == 0 {
		c.Incremental.BatchSize = defaults.Incremental.BatchSize
	}
	if c.Incremental.FlushInterval == 0 {
		c.Incremental.FlushInterval = defaults.Incremental.FlushInterval
	}
	if c.Incremental.StalenessTimeout == 0 {
		c.Incremental.StalenessTimeout = defaults.Incremental.StalenessTimeout
	}
	if c.Incremental.TombstoneThreshold == 0 {
		c.Incremental.TombstoneThreshold = defaults.Incremental.TombstoneThreshold
	}
	if c.Incremental.MaxPending == 0 {
		c.Incremental.MaxPending = defaults.Incremental.MaxPending
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = defaults.Logging.MaxSizeMB
	}
	if c.Logging.MaxFiles == 0 {
		c.Logging.MaxFiles = defaults.Logging.MaxFiles
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Engine.EmbeddingDim <= 0 {
		return fmt.Errorf("engine.embedding_dim must be positive, got %d", c.Engine.EmbeddingDim)
	}
	if c.Engine.IndexPath == "" {
		return fmt.Errorf("engine.index_path must not be empty")
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must be non-negative, got %d", c.Cache.Capacity)
	}
	if c.Incremental.BatchSize <= 0 {
		return fmt.Errorf("incremental.batch_size must be positive, got %d", c.Incremental.BatchSize)
	}
	if c.Incremental.TombstoneThreshold <= 0 {
		return fmt.Errorf("incremental.tombstone_threshold must be positive, got %d", c.Incremental.TombstoneThreshold)
	}
	if c.Incremental.MaxPending <= 0 {
		return fmt.Errorf("incremental.max_pending must be positive, got %d", c.Incremental.MaxPending)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %s", c.Logging.Level)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file %s: %w", path, err)
	}
	return nil
}

// DefaultIndexPath returns a reasonable default index directory under the
// user's home, for callers that don't specify one explicitly.
func DefaultIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "hybridcore", "index")
	}
	return filepath.Join(home, ".hybridcore", "index")
}
