package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RatePolicy is a fixed-window limit for one operation
type RatePolicy struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// Config holds application configuration
type Config struct {
	Database struct {
		ConnectionString string `yaml:"connection_string"`
		MaxConns         int32  `yaml:"max_conns"`
		// Startup pings before giving up on an unreachable server.
		ConnectAttempts int `yaml:"connect_attempts"`
	} `yaml:"database"`
	Redis struct {
		// Empty address keeps rate limit buckets in process memory.
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Server struct {
		Addr            string        `yaml:"addr"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Ollama struct {
		BaseURL      string        `yaml:"base_url"`
		DefaultModel string        `yaml:"default_model"`
		Timeout      time.Duration `yaml:"timeout"`
	} `yaml:"ollama"`
	Embeddings struct {
		TextModel  string `yaml:"text_model"`
		Dimensions int    `yaml:"dimensions"`
		BatchSize  int    `yaml:"batch_size"`
		MaxRetries int    `yaml:"max_retries"`
	} `yaml:"embeddings"`
	Processing struct {
		ChunkSize           int     `yaml:"chunk_size"`
		ChunkOverlap        int     `yaml:"chunk_overlap"`
		TopK                int     `yaml:"top_k"`
		SimilarityThreshold float64 `yaml:"similarity_threshold"`
	} `yaml:"processing"`
	Generation struct {
		MaxContextChars int  `yaml:"max_context_chars"`
		AllowFreeForm   bool `yaml:"allow_free_form"`
	} `yaml:"generation"`
	RateLimits map[string]RatePolicy `yaml:"rate_limits"`
	// Plans maps a plan name to its maximum conversation count; 0 is unlimited.
	Plans   map[string]int `yaml:"plans"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultPath returns ~/.docchat/config.yaml
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".docchat", "config.yaml")
}

// Load loads configuration from path (DefaultPath when empty) or returns
// defaults when the file does not exist. A .env file in the working directory
// and DOCCHAT_* environment variables are applied on top.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	_ = godotenv.Load()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save saves configuration to path, creating its directory
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// Validate rejects parameter combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	p := c.Processing
	if p.ChunkSize <= 0 {
		return fmt.Errorf("processing.chunk_size must be positive, got %d", p.ChunkSize)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("processing.chunk_overlap must be in [0, %d), got %d", p.ChunkSize, p.ChunkOverlap)
	}
	if p.TopK <= 0 {
		return fmt.Errorf("processing.top_k must be positive, got %d", p.TopK)
	}
	if p.SimilarityThreshold < -1 || p.SimilarityThreshold > 1 {
		return fmt.Errorf("processing.similarity_threshold must be in [-1, 1], got %g", p.SimilarityThreshold)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	for name, rp := range c.RateLimits {
		if rp.Limit <= 0 || rp.Window <= 0 {
			return fmt.Errorf("rate_limits.%s needs a positive limit and window", name)
		}
	}
	return nil
}

// Policy returns the named rate policy, falling back to the default table.
func (c *Config) Policy(operation string) RatePolicy {
	if rp, ok := c.RateLimits[operation]; ok {
		return rp
	}
	if rp, ok := defaultRateLimits()[operation]; ok {
		return rp
	}
	return RatePolicy{Limit: 20, Window: time.Minute}
}

// Default returns default configuration
func Default() *Config {
	cfg := &Config{}

	cfg.Database.ConnectionString = "postgres://postgres@localhost/postgres?sslmode=disable"
	cfg.Database.MaxConns = 10
	cfg.Database.ConnectAttempts = 5
	cfg.Server.Addr = ":8080"
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Ollama.BaseURL = "http://localhost:11434"
	cfg.Ollama.DefaultModel = ""
	cfg.Ollama.Timeout = 5 * time.Minute
	cfg.Embeddings.TextModel = "nomic-embed-text"
	cfg.Embeddings.Dimensions = 768
	cfg.Embeddings.BatchSize = 32
	cfg.Embeddings.MaxRetries = 3
	cfg.Processing.ChunkSize = 1000
	cfg.Processing.ChunkOverlap = 200
	cfg.Processing.TopK = 6
	cfg.Processing.SimilarityThreshold = 0.75
	cfg.Generation.MaxContextChars = 8000
	cfg.RateLimits = defaultRateLimits()
	cfg.Plans = map[string]int{
		"free":       5,
		"pro":        100,
		"enterprise": 0,
	}
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func defaultRateLimits() map[string]RatePolicy {
	return map[string]RatePolicy{
		"query":   {Limit: 20, Window: time.Minute},
		"history": {Limit: 60, Window: time.Minute},
		"ingest":  {Limit: 10, Window: 10 * time.Minute},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DOCCHAT_DATABASE_URL"); v != "" {
		cfg.Database.ConnectionString = v
	}
	if v := os.Getenv("DOCCHAT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DOCCHAT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DOCCHAT_OLLAMA_URL"); v != "" {
		cfg.Ollama.BaseURL = v
	}
	if v := os.Getenv("DOCCHAT_MODEL"); v != "" {
		cfg.Ollama.DefaultModel = v
	}
	if v := os.Getenv("DOCCHAT_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DOCCHAT_EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("DOCCHAT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
