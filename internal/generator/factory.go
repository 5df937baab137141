package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/ragdoc/internal/config"
)

// New creates the generator selected by cfg
func New(ctx context.Context, cfg config.GenerationConfig) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderTemplate, "":
		return NewTemplate(), nil
	case ProviderClaude:
		return NewClaude(ClaudeOptions{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case ProviderGemini:
		return NewGemini(ctx, GeminiOptions{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	case ProviderOpenAI:
		return NewOpenAI(OpenAIOptions{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}
}
