package vectorindex

import (
	"context"
	"sync"

	"github.com/dshills/ragdoc/pkg/types"
)

type entry struct {
	vector []float32
	meta   Metadata
}

// MemoryIndex is an exact brute-force index held in memory. Queries take a
// read lock; only Upsert and Remove take the write lock.
type MemoryIndex struct {
	mu        sync.RWMutex
	entries   map[string]entry
	dimension int
	metric    types.DistanceMetric
}

// NewMemoryIndex creates an empty index for vectors of length dimension
func NewMemoryIndex(dimension int, metric types.DistanceMetric) (*MemoryIndex, error) {
	if dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	if metric == "" {
		metric = types.MetricCosine
	}
	if err := metric.Validate(); err != nil {
		return nil, err
	}
	return &MemoryIndex{
		entries:   make(map[string]entry),
		dimension: dimension,
		metric:    metric,
	}, nil
}

func (m *MemoryIndex) Upsert(_ context.Context, id string, vector []float32, meta Metadata) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	if err := checkDimension(m.dimension, vector); err != nil {
		return false, err
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)

	m.mu.Lock()
	defer m.mu.Unlock()
	_, replaced := m.entries[id]
	m.entries[id] = entry{vector: stored, meta: meta}
	return replaced, nil
}

func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int, exclude Exclusion) (types.RetrievalResult, error) {
	if err := checkDimension(m.dimension, vector); err != nil {
		return types.RetrievalResult{}, err
	}
	if k <= 0 {
		return types.RetrievalResult{Neighbors: []types.Neighbor{}}, nil
	}
	if err := ctx.Err(); err != nil {
		return types.RetrievalResult{}, err
	}

	m.mu.RLock()
	candidates := make([]types.Neighbor, 0, len(m.entries))
	for id, e := range m.entries {
		if exclude.Has(id) {
			continue
		}
		candidates = append(candidates, types.Neighbor{
			UnitID:   id,
			Distance: Distance(m.metric, vector, e.vector),
		})
	}
	m.mu.RUnlock()

	sortNeighbors(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return types.RetrievalResult{Neighbors: candidates}, nil
}

func (m *MemoryIndex) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryIndex) Get(id string) ([]float32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(e.vector))
	copy(out, e.vector)
	return out, true
}

// Metadata returns the metadata stored with id
func (m *MemoryIndex) Metadata(id string) (Metadata, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	return e.meta, ok
}

func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryIndex) Dimension() int {
	return m.dimension
}

func (m *MemoryIndex) Metric() types.DistanceMetric {
	return m.metric
}

func (m *MemoryIndex) Close() error {
	return nil
}
