// Package config loads ragdoc configuration and derives the immutable
// per-run configuration passed to every pipeline component.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/dshills/ragdoc/pkg/types"
)

// Default values applied when a field is left empty
const (
	DefaultEmbeddingProvider  = "hash"
	DefaultDimension          = 384
	DefaultEmbedTimeout       = 30 * time.Second
	DefaultEmbedMaxTokens     = 2000
	DefaultCacheSize          = 1000
	DefaultGenerationProvider = "template"
	DefaultGenerateTimeout    = 60 * time.Second
	DefaultGenerateMaxTokens  = 1024
	DefaultK                  = 5
	DefaultExcerptChars       = 280
	DefaultBackend            = "memory"
	DefaultWorkers            = 4
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
)

// Config is the full application configuration
type Config struct {
	Embedding  EmbeddingConfig  `koanf:"embedding"`
	Generation GenerationConfig `koanf:"generation"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Storage    StorageConfig    `koanf:"storage"`
	Log        LogConfig        `koanf:"log"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// EmbeddingConfig selects and configures the embedding provider
type EmbeddingConfig struct {
	Provider  string        `koanf:"provider"` // hash, jina, openai
	Model     string        `koanf:"model"`
	Dimension int           `koanf:"dimension"`
	APIKey    string        `koanf:"api_key"`
	BaseURL   string        `koanf:"base_url"`
	CacheSize int           `koanf:"cache_size"`
	MaxTokens int           `koanf:"max_tokens"`
	Timeout   time.Duration `koanf:"timeout"`
}

// GenerationConfig selects and configures the text generator
type GenerationConfig struct {
	Provider    string        `koanf:"provider"` // template, claude, gemini, openai
	Model       string        `koanf:"model"`
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

// RetrievalConfig configures the vector index and retrieval context
type RetrievalConfig struct {
	K            int    `koanf:"k"`
	Metric       string `koanf:"metric"`
	Backend      string `koanf:"backend"` // memory, chromem
	ChromemPath  string `koanf:"chromem_path"`
	ExcerptChars int    `koanf:"excerpt_chars"`
}

// PipelineConfig configures concurrency and file discovery
type PipelineConfig struct {
	Workers       int  `koanf:"workers"`
	IncludeTests  bool `koanf:"include_tests"`
	IncludeVendor bool `koanf:"include_vendor"`
}

// StorageConfig configures job persistence. An empty path keeps jobs in memory.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, console
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{Retrieval: RetrievalConfig{K: DefaultK}}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values. Retrieval K is left alone because zero
// is a meaningful setting (no peers).
func applyDefaults(cfg *Config) {
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = DefaultEmbeddingProvider
	}
	if cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = DefaultDimension
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = DefaultCacheSize
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = DefaultEmbedMaxTokens
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = DefaultEmbedTimeout
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = DefaultGenerationProvider
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = DefaultGenerateMaxTokens
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = DefaultGenerateTimeout
	}
	if cfg.Retrieval.Metric == "" {
		cfg.Retrieval.Metric = string(types.MetricCosine)
	}
	if cfg.Retrieval.Backend == "" {
		cfg.Retrieval.Backend = DefaultBackend
	}
	if cfg.Retrieval.ExcerptChars == 0 {
		cfg.Retrieval.ExcerptChars = DefaultExcerptChars
	}
	if cfg.Pipeline.Workers == 0 {
		cfg.Pipeline.Workers = DefaultWorkers
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	var errs []error
	switch c.Embedding.Provider {
	case "hash", "jina", "openai":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension <= 0 {
		errs = append(errs, errors.New("embedding.dimension must be positive"))
	}
	switch c.Generation.Provider {
	case "template", "claude", "gemini", "openai":
	default:
		errs = append(errs, fmt.Errorf("generation.provider: unknown provider %q", c.Generation.Provider))
	}
	if c.Retrieval.K < 0 {
		errs = append(errs, errors.New("retrieval.k cannot be negative"))
	}
	if err := types.DistanceMetric(c.Retrieval.Metric).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retrieval.metric: %w", err))
	}
	switch c.Retrieval.Backend {
	case "memory":
	case "chromem":
		if c.Retrieval.Metric != string(types.MetricCosine) {
			errs = append(errs, errors.New("retrieval.backend chromem supports only the cosine metric"))
		}
	default:
		errs = append(errs, fmt.Errorf("retrieval.backend: unknown backend %q", c.Retrieval.Backend))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, errors.New("pipeline.workers must be at least 1"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Run derives the immutable per-run configuration
func (c *Config) Run() RunConfig {
	return RunConfig{
		Dimension:       c.Embedding.Dimension,
		Provider:        c.Embedding.Provider,
		Generator:       c.Generation.Provider,
		K:               c.Retrieval.K,
		Metric:          types.DistanceMetric(c.Retrieval.Metric),
		Backend:         c.Retrieval.Backend,
		ChromemPath:     c.Retrieval.ChromemPath,
		ExcerptChars:    c.Retrieval.ExcerptChars,
		EmbedMaxTokens:  c.Embedding.MaxTokens,
		EmbedTimeout:    c.Embedding.Timeout,
		GenerateTimeout: c.Generation.Timeout,
		Workers:         c.Pipeline.Workers,
	}
}
