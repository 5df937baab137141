package types

import "time"

// DistanceMetric selects how the vector index compares embeddings
type DistanceMetric string

const (
	MetricCosine    DistanceMetric = "cosine"
	MetricEuclidean DistanceMetric = "euclidean"
)

// Validate checks if the metric is supported
func (m DistanceMetric) Validate() error {
	switch m {
	case MetricCosine, MetricEuclidean:
		return nil
	default:
		return ErrInvalidMetric
	}
}

// EmbeddingRecord is the current embedding of one unit.
// Re-embedding a unit replaces its record.
type EmbeddingRecord struct {
	UnitID    string    `json:"unit_id"`
	Vector    []float32 `json:"vector"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the record against the run's dimensionality
func (r *EmbeddingRecord) Validate(dimension int) error {
	if r.UnitID == "" {
		return ErrInvalidUnitID
	}
	if len(r.Vector) != dimension {
		return &DimensionMismatchError{Expected: dimension, Got: len(r.Vector)}
	}
	return nil
}

// Neighbor is one candidate of a retrieval result
type Neighbor struct {
	UnitID   string  `json:"unit_id"`
	Distance float64 `json:"distance"`
}

// RetrievalResult lists the nearest neighbors of a query unit,
// closest first with ties broken by ascending unit ID.
type RetrievalResult struct {
	QueryID   string     `json:"query_id"`
	Neighbors []Neighbor `json:"neighbors"`
}

// Len returns the number of neighbors
func (r RetrievalResult) Len() int {
	return len(r.Neighbors)
}

// IDs returns the neighbor IDs in result order
func (r RetrievalResult) IDs() []string {
	ids := make([]string, len(r.Neighbors))
	for i, n := range r.Neighbors {
		ids[i] = n.UnitID
	}
	return ids
}

// Validate checks ordering, self-exclusion and the k bound
func (r RetrievalResult) Validate(k int) error {
	if len(r.Neighbors) > max(k, 0) {
		return ErrTooManyNeighbors
	}
	for i, n := range r.Neighbors {
		if n.UnitID == r.QueryID && r.QueryID != "" {
			return ErrSelfInRetrieval
		}
		if i == 0 {
			continue
		}
		prev := r.Neighbors[i-1]
		if n.Distance < prev.Distance || (n.Distance == prev.Distance && n.UnitID <= prev.UnitID) {
			return ErrRetrievalOrder
		}
	}
	return nil
}
