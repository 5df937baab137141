package embedder

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOpenAIModel is the embedding model used when none is configured
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIProvider implements Embedder through langchaingo's OpenAI client.
// BaseURL may point at any OpenAI-compatible server.
type OpenAIProvider struct {
	embedder  *embeddings.EmbedderImpl
	model     string
	dimension int
	cache     *Cache
	retry     RetryConfig
}

// OpenAIOptions configures an OpenAIProvider
type OpenAIOptions struct {
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(opts OpenAIOptions, cache *Cache) (*OpenAIProvider, error) {
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: openai api key not set", ErrNoProviderEnabled)
	}
	if opts.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}

	apiKey := opts.APIKey
	if apiKey == "" {
		// Compatible servers ignore the token but the client requires one.
		apiKey = "placeholder"
	}

	clientOpts := []openai.Option{
		openai.WithEmbeddingModel(opts.Model),
		openai.WithToken(apiKey),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(opts.BaseURL))
	}

	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &OpenAIProvider{
		embedder:  embedder,
		model:     opts.Model,
		dimension: opts.Dimension,
		cache:     cache,
		retry:     DefaultRetryConfig(),
	}, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, text, unitContext string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text, unitContext)
	if v, ok := o.cache.Get(hash); ok {
		return v, nil
	}

	vector, err := retryWithBackoff(ctx, o.retry, func() ([]float32, error) {
		return o.embedder.EmbedQuery(ctx, Join(text, unitContext))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	o.cache.Set(hash, vector)
	return vector, nil
}

func (o *OpenAIProvider) Dimension() int {
	return o.dimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}
