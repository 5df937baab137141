package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// DefaultHashModel names the deterministic hash embedding scheme
const DefaultHashModel = "sha256-expand"

// HashProvider is a deterministic embedder: the vector is a pure function
// of text and context, expanded from a SHA-256 stream and normalized to
// unit length. It needs no network and is the default for tests.
type HashProvider struct {
	dimension int
	cache     *Cache
}

// NewHashProvider creates a hash embedder emitting vectors of length dimension
func NewHashProvider(dimension int, cache *Cache) (*HashProvider, error) {
	if dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	return &HashProvider{dimension: dimension, cache: cache}, nil
}

func (h *HashProvider) Embed(ctx context.Context, text, unitContext string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash := ComputeHash(text, unitContext)
	if v, ok := h.cache.Get(hash); ok {
		return v, nil
	}

	vector := make([]float32, h.dimension)
	seed := sha256.Sum256([]byte(hash))
	var counter [8]byte
	for i := 0; i < h.dimension; i += sha256.Size {
		binary.BigEndian.PutUint64(counter[:], uint64(i))
		block := sha256.Sum256(append(seed[:], counter[:]...))
		for j := 0; j < sha256.Size && i+j < h.dimension; j++ {
			// Center around zero so vectors are not all in one orthant.
			vector[i+j] = float32(block[j])/127.5 - 1
		}
	}
	vector = NormalizeVector(vector)

	h.cache.Set(hash, vector)
	return vector, nil
}

func (h *HashProvider) Dimension() int {
	return h.dimension
}

func (h *HashProvider) Provider() string {
	return ProviderHash
}

func (h *HashProvider) Model() string {
	return DefaultHashModel
}

func (h *HashProvider) Close() error {
	return nil
}
