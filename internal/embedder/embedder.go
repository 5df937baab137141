package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrTextTooLong       = errors.New("text exceeds provider limit")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported provider")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
	ErrInvalidDimension  = errors.New("dimension must be positive")
)

// Provider names
const (
	ProviderHash   = "hash"
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
)

// Embedder maps a unit's text plus optional structural context to a vector
// of fixed length. Implementations have no side effects beyond the returned
// vector; indexing is the caller's job.
type Embedder interface {
	// Embed returns the vector for text in the given context
	Embed(ctx context.Context, text, unitContext string) ([]float32, error)

	// Dimension returns the length of every vector this embedder emits
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// Cache provides in-memory LRU caching of vectors by content hash
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

// Get returns a copy of a cached vector so callers cannot mutate the cache
func (c *Cache) Get(hash string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a vector in cache with automatic LRU eviction
func (c *Cache) Set(hash string, v []float32) {
	if c == nil {
		return
	}
	stored := make([]float32, len(v))
	copy(stored, v)
	c.cache.Add(hash, stored)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	if c == nil {
		return 0
	}
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	if c != nil {
		c.cache.Purge()
	}
}

// ComputeHash computes the SHA-256 of text and context for caching
func ComputeHash(text, unitContext string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(unitContext))
	return hex.EncodeToString(h.Sum(nil))
}

// Join combines text and context the way remote providers receive them
func Join(text, unitContext string) string {
	if unitContext == "" {
		return text
	}
	return unitContext + "\n\n" + text
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
