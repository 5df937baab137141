package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// DefaultOpenAIModel is used when no model is configured
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI generates documentation through langchaingo's OpenAI client.
// BaseURL may point at any OpenAI-compatible server.
type OpenAI struct {
	llm         *openai.LLM
	maxTokens   int
	temperature float64
}

// OpenAIOptions configures an OpenAI generator
type OpenAIOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// NewOpenAI creates an OpenAI generator
func NewOpenAI(opts OpenAIOptions) (*OpenAI, error) {
	if opts.APIKey == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("%w: openai", ErrMissingAPIKey)
	}
	if opts.Model == "" {
		opts.Model = DefaultOpenAIModel
	}
	apiKey := opts.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	clientOpts := []openai.Option{
		openai.WithModel(opts.Model),
		openai.WithToken(apiKey),
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(opts.BaseURL))
	}

	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return &OpenAI{llm: llm, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

func (o *OpenAI) Name() string {
	return ProviderOpenAI
}

func (o *OpenAI) Generate(ctx context.Context, in Input) (string, error) {
	callOpts := []llms.CallOption{llms.WithTemperature(o.temperature)}
	if o.maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(o.maxTokens))
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, o.llm, systemPrompt+"\n\n"+in.Prompt(), callOpts...)
	if err != nil {
		return "", fmt.Errorf("openai generation failed: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
