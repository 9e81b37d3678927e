package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 1000, cfg.Processing.ChunkSize)
	assert.Equal(t, 200, cfg.Processing.ChunkOverlap)
	assert.Equal(t, 6, cfg.Processing.TopK)
	assert.InDelta(t, 0.75, cfg.Processing.SimilarityThreshold, 1e-9)
	assert.Equal(t, RatePolicy{Limit: 20, Window: time.Minute}, cfg.Policy("query"))
	assert.Equal(t, RatePolicy{Limit: 60, Window: time.Minute}, cfg.Policy("history"))
	assert.Equal(t, RatePolicy{Limit: 10, Window: 10 * time.Minute}, cfg.Policy("ingest"))
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Processing, cfg.Processing)
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
processing:
  chunk_size: 500
  chunk_overlap: 50
  top_k: 3
  similarity_threshold: 0.5
rate_limits:
  query:
    limit: 2
    window: 60s
plans:
  free: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Processing.ChunkSize)
	assert.Equal(t, 50, cfg.Processing.ChunkOverlap)
	assert.Equal(t, 3, cfg.Processing.TopK)
	assert.Equal(t, RatePolicy{Limit: 2, Window: time.Minute}, cfg.Policy("query"))
	assert.Equal(t, 1, cfg.Plans["free"])
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DOCCHAT_DATABASE_URL", "postgres://example/db")
	t.Setenv("DOCCHAT_REDIS_ADDR", "redis:6379")
	t.Setenv("DOCCHAT_EMBEDDING_DIMENSIONS", "1536")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://example/db", cfg.Database.ConnectionString)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 1536, cfg.Embeddings.Dimensions)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero chunk size", func(c *Config) { c.Processing.ChunkSize = 0 }},
		{"overlap equals size", func(c *Config) { c.Processing.ChunkOverlap = c.Processing.ChunkSize }},
		{"negative overlap", func(c *Config) { c.Processing.ChunkOverlap = -1 }},
		{"zero top k", func(c *Config) { c.Processing.TopK = 0 }},
		{"threshold above one", func(c *Config) { c.Processing.SimilarityThreshold = 1.5 }},
		{"zero dimensions", func(c *Config) { c.Embeddings.Dimensions = 0 }},
		{"bad policy", func(c *Config) { c.RateLimits["query"] = RatePolicy{Limit: 0, Window: time.Second} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Processing.TopK = 9

	require.NoError(t, cfg.Save(path))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, loaded.Processing.TopK)
	assert.Equal(t, cfg.Server.ShutdownTimeout, loaded.Server.ShutdownTimeout)
}
