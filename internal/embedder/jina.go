package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Jina defaults
const (
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultJinaBaseURL = "https://api.jina.ai/v1"
)

// JinaProvider implements Embedder using the Jina AI embeddings API
type JinaProvider struct {
	apiKey     string
	model      string
	baseURL    string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// JinaOptions configures a JinaProvider. Zero values select defaults.
type JinaOptions struct {
	APIKey    string
	Model     string
	BaseURL   string
	Dimension int
	Timeout   time.Duration
}

// NewJinaProvider creates a new Jina AI embedder
func NewJinaProvider(opts JinaOptions, cache *Cache) (*JinaProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: jina api key not set", ErrNoProviderEnabled)
	}
	if opts.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	if opts.Model == "" {
		opts.Model = DefaultJinaModel
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultJinaBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	return &JinaProvider{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		dimension:  opts.Dimension,
		httpClient: &http.Client{Timeout: opts.Timeout},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}, nil
}

func (j *JinaProvider) Embed(ctx context.Context, text, unitContext string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	hash := ComputeHash(text, unitContext)
	if v, ok := j.cache.Get(hash); ok {
		return v, nil
	}

	vector, err := retryWithBackoff(ctx, j.retry, func() ([]float32, error) {
		return j.callAPI(ctx, Join(text, unitContext))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
	}

	j.cache.Set(hash, vector)
	return vector, nil
}

func (j *JinaProvider) callAPI(ctx context.Context, input string) ([]float32, error) {
	body, err := json.Marshal(map[string]interface{}{
		"input":      []string{input},
		"model":      j.model,
		"dimensions": j.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+j.apiKey)

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return apiResp.Data[0].Embedding, nil
}

func (j *JinaProvider) Dimension() int {
	return j.dimension
}

func (j *JinaProvider) Provider() string {
	return ProviderJina
}

func (j *JinaProvider) Model() string {
	return j.model
}

func (j *JinaProvider) Close() error {
	j.httpClient.CloseIdleConnections()
	return nil
}
