package embedder

import (
	"fmt"
	"strings"

	"github.com/dshills/ragdoc/internal/config"
)

// New creates the embedder selected by cfg. The choice is made once per
// process and passed into the pipeline as a dependency.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderHash, "":
		return NewHashProvider(cfg.Dimension, cache)
	case ProviderJina:
		return NewJinaProvider(JinaOptions{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout,
		}, cache)
	case ProviderOpenAI:
		return NewOpenAIProvider(OpenAIOptions{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			Dimension: cfg.Dimension,
		}, cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}
