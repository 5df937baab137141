package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/dshills/ragdoc/internal/config"
	"github.com/dshills/ragdoc/pkg/types"
)

// Backend names
const (
	BackendMemory  = "memory"
	BackendChromem = "chromem"
)

var (
	// ErrEmptyID is returned when upserting without a unit ID
	ErrEmptyID = errors.New("unit ID cannot be empty")

	// ErrUnsupportedMetric is returned when a backend cannot serve the metric
	ErrUnsupportedMetric = errors.New("metric not supported by backend")

	// ErrUnknownBackend is returned by New for an unknown backend name
	ErrUnknownBackend = errors.New("unknown vector index backend")

	// ErrInvalidDimension is returned when creating an index with dimension < 1
	ErrInvalidDimension = errors.New("dimension must be positive")

	// ErrZeroVector is returned when a cosine backend is given a vector
	// with no direction
	ErrZeroVector = errors.New("query vector has zero length")
)

// Metadata is stored alongside a vector
type Metadata map[string]string

// Exclusion is a set of unit IDs a query must skip
type Exclusion map[string]struct{}

// NewExclusion builds an exclusion set
func NewExclusion(ids ...string) Exclusion {
	ex := make(Exclusion, len(ids))
	for _, id := range ids {
		ex[id] = struct{}{}
	}
	return ex
}

// Add inserts ids into the set
func (e Exclusion) Add(ids ...string) {
	for _, id := range ids {
		e[id] = struct{}{}
	}
}

// Has reports whether id is excluded
func (e Exclusion) Has(id string) bool {
	_, ok := e[id]
	return ok
}

// Index stores one vector per unit and answers nearest-neighbor queries.
//
// Query results are ordered by distance, closest first, with ties broken by
// ascending unit ID. A query never returns a vector removed before it began.
type Index interface {
	// Upsert replaces any existing vector for id and reports whether one existed
	Upsert(ctx context.Context, id string, vector []float32, meta Metadata) (bool, error)

	// Query returns up to k neighbors of vector that are not in exclude
	Query(ctx context.Context, vector []float32, k int, exclude Exclusion) (types.RetrievalResult, error)

	// Remove deletes id; removing an absent id is a no-op
	Remove(ctx context.Context, id string) error

	// Get returns a copy of the stored vector for id
	Get(id string) ([]float32, bool)

	Len() int
	Dimension() int
	Metric() types.DistanceMetric
	Close() error
}

// New creates the index selected by the run configuration. name keeps
// runs apart when the backend persists to a shared location.
func New(run config.RunConfig, name string) (Index, error) {
	switch run.Backend {
	case BackendMemory, "":
		return NewMemoryIndex(run.Dimension, run.Metric)
	case BackendChromem:
		return NewChromemIndex(ChromemOptions{
			Path:       run.ChromemPath,
			Collection: name,
			Dimension:  run.Dimension,
			Metric:     run.Metric,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, run.Backend)
	}
}

func checkDimension(dimension int, vector []float32) error {
	if len(vector) != dimension {
		return &types.DimensionMismatchError{Expected: dimension, Got: len(vector)}
	}
	return nil
}

// Distance computes the distance between a and b under metric.
// Cosine distance is 1 - cos(a, b); a zero vector is at distance 1 from
// everything. Euclidean distance is the L2 norm of a - b.
func Distance(metric types.DistanceMetric, a, b []float32) float64 {
	switch metric {
	case types.MetricEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	default:
		var dot, na, nb float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			na += float64(a[i]) * float64(a[i])
			nb += float64(b[i]) * float64(b[i])
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	}
}

// sortNeighbors orders by distance then ID
func sortNeighbors(ns []types.Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].UnitID < ns[j].UnitID
	})
}
