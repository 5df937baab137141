package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultClaudeModel is used when no model is configured
const DefaultClaudeModel = "claude-3-5-haiku-latest"

// Claude generates documentation with the Anthropic Messages API
type Claude struct {
	messages    *anthropic.MessageService
	model       string
	maxTokens   int64
	temperature float64
}

// ClaudeOptions configures a Claude generator
type ClaudeOptions struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// NewClaude creates a Claude generator
func NewClaude(opts ClaudeOptions) (*Claude, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: claude", ErrMissingAPIKey)
	}
	if opts.Model == "" {
		opts.Model = DefaultClaudeModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	client := anthropic.NewClient(reqOpts...)

	return &Claude{
		messages:    &client.Messages,
		model:       opts.Model,
		maxTokens:   int64(opts.MaxTokens),
		temperature: opts.Temperature,
	}, nil
}

func (c *Claude) Name() string {
	return ProviderClaude
}

func (c *Claude) Generate(ctx context.Context, in Input) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(in.Prompt())),
		},
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
	}
	if c.temperature > 0 {
		params.Temperature = anthropic.Float(c.temperature)
	}

	resp, err := c.messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API call failed: %w", err)
	}

	var response strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			response.WriteString(block.Text)
		}
	}
	if response.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(response.String()), nil
}
