package hconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_ReturnsDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, 1000, cfg.Cache.Capacity)
	assert.Equal(t, 50, cfg.Incremental.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Incremental.FlushInterval)
	assert.Equal(t, 30*time.Second, cfg.Incremental.StalenessTimeout)
	assert.Equal(t, 100, cfg.Incremental.TombstoneThreshold)
	assert.Equal(t, 10000, cfg.Incremental.MaxPending)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.WriteToStderr)
}

func TestLoad_NoConfigFile_ReturnsDefaults(t *testing.T) {
	// Given: a path that does not exist
	path := filepath.Join(t.TempDir(), "missing.yaml")

	// When: loading configuration
	cfg, err := Load(path)

	// Then: defaults load without error; engine.embedding_dim/index_path
	// are still unset, so the caller must provide them.
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, 1000, cfg.Cache.Capacity)
}

func TestLoad_YamlFile_OverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	content := `
engine:
  embedding_dim: 384
  index_path: /tmp/idx
  embedding_model_name: static-hash
incremental:
  batch_size: 25
  tombstone_threshold: 200
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, 384, cfg.Engine.EmbeddingDim)
	assert.Equal(t, "/tmp/idx", cfg.Engine.IndexPath)
	assert.Equal(t, 25, cfg.Incremental.BatchSize)
	assert.Equal(t, 200, cfg.Incremental.TombstoneThreshold)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched fields keep their defaults.
	assert.Equal(t, 1000, cfg.Cache.Capacity)
	assert.Equal(t, 30*time.Second, cfg.Incremental.StalenessTimeout)
}

func TestLoad_InvalidYaml_ReturnsError(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [invalid"), 0o644))

	cfg, err := Load(path)

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "parse")
}

func TestValidate_RejectsMissingEmbeddingDim(t *testing.T) {
	cfg := NewConfig()
	cfg.Engine.IndexPath = "/tmp/idx"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding_dim")
}

func TestValidate_RejectsMissingIndexPath(t *testing.T) {
	cfg := NewConfig()
	cfg.Engine.EmbeddingDim = 128

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "index_path")
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := NewConfig()
	cfg.Engine.EmbeddingDim = 128
	cfg.Engine.IndexPath = "/tmp/idx"
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Engine.EmbeddingDim = 128
	cfg.Engine.IndexPath = "/tmp/idx"

	assert.NoError(t, cfg.Validate())
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	cfg := NewConfig()
	cfg.Engine.EmbeddingDim = 256
	cfg.Engine.IndexPath = "/tmp/idx"
	path := filepath.Join(t.TempDir(), "out.yaml")

	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Engine.EmbeddingDim, loaded.Engine.EmbeddingDim)
	assert.Equal(t, cfg.Engine.IndexPath, loaded.Engine.IndexPath)
}

func TestDefaultIndexPath_ReturnsNonEmptyPath(t *testing.T) {
	assert.NotEmpty(t, DefaultIndexPath())
}
