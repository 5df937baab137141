package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/dshills/ragdoc/pkg/types"
)

// DefaultCollection is used when no collection name is given
const DefaultCollection = "units"

var errNoTextEmbedding = errors.New("chromem index stores precomputed vectors only")

// ChromemOptions configures a ChromemIndex
type ChromemOptions struct {
	// Path persists the collection to disk; empty keeps it in memory
	Path       string
	Compress   bool
	Collection string
	Dimension  int
	Metric     types.DistanceMetric
}

// ChromemIndex stores vectors in a chromem-go collection. chromem ranks by
// cosine similarity only, so Euclidean runs must use MemoryIndex.
//
// chromem has no exclusion filter on IDs, so queries over-fetch, drop the
// excluded IDs and re-sort with the ID tie-break. The fetch is widened
// until the k-th kept neighbor is strictly closer than the farthest
// fetched one, so a tie at the cut cannot hide a smaller ID.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int

	// vectors mirrors the collection for Get and replace detection
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewChromemIndex opens or creates the collection described by opts
func NewChromemIndex(opts ChromemOptions) (*ChromemIndex, error) {
	if opts.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	if opts.Metric != "" && opts.Metric != types.MetricCosine {
		return nil, fmt.Errorf("%w: chromem ranks by cosine, got %s", ErrUnsupportedMetric, opts.Metric)
	}
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}

	var db *chromem.DB
	if opts.Path != "" {
		if err := os.MkdirAll(opts.Path, 0755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", opts.Path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(opts.Path, opts.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embed := func(context.Context, string) ([]float32, error) {
		return nil, errNoTextEmbedding
	}
	collection, err := db.GetOrCreateCollection(opts.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", opts.Collection, err)
	}

	return &ChromemIndex{
		db:         db,
		collection: collection,
		dimension:  opts.Dimension,
		vectors:    make(map[string][]float32),
	}, nil
}

func (c *ChromemIndex) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) (bool, error) {
	if id == "" {
		return false, ErrEmptyID
	}
	if err := checkDimension(c.dimension, vector); err != nil {
		return false, err
	}
	if isZero(vector) {
		return false, ErrZeroVector
	}

	stored := make([]float32, len(vector))
	copy(stored, vector)

	c.mu.Lock()
	defer c.mu.Unlock()

	doc := chromem.Document{
		ID:        id,
		Metadata:  meta,
		Embedding: stored,
		Content:   id,
	}
	if err := c.collection.AddDocument(ctx, doc); err != nil {
		return false, fmt.Errorf("adding document %s: %w", id, err)
	}

	_, replaced := c.vectors[id]
	c.vectors[id] = stored
	return replaced, nil
}

func (c *ChromemIndex) Query(ctx context.Context, vector []float32, k int, exclude Exclusion) (types.RetrievalResult, error) {
	if err := checkDimension(c.dimension, vector); err != nil {
		return types.RetrievalResult{}, err
	}
	if k <= 0 {
		return types.RetrievalResult{Neighbors: []types.Neighbor{}}, nil
	}
	if isZero(vector) {
		return types.RetrievalResult{}, ErrZeroVector
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.collection.Count()
	if total == 0 {
		return types.RetrievalResult{Neighbors: []types.Neighbor{}}, nil
	}

	n := min(total, k+len(exclude))
	for {
		results, err := c.collection.QueryEmbedding(ctx, vector, n, nil, nil)
		if err != nil {
			return types.RetrievalResult{}, fmt.Errorf("querying collection: %w", err)
		}

		kept := make([]types.Neighbor, 0, len(results))
		farthest := math.Inf(-1)
		for _, r := range results {
			d := 1 - float64(r.Similarity)
			if d > farthest {
				farthest = d
			}
			if exclude.Has(r.ID) {
				continue
			}
			kept = append(kept, types.Neighbor{UnitID: r.ID, Distance: d})
		}
		sortNeighbors(kept)

		done := n == total || (len(kept) >= k && kept[k-1].Distance < farthest)
		if done {
			if len(kept) > k {
				kept = kept[:k]
			}
			return types.RetrievalResult{Neighbors: kept}, nil
		}
		n = min(total, n*2)
	}
}

func (c *ChromemIndex) Remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.vectors[id]; !ok && c.collection.Count() == len(c.vectors) {
		return nil
	}
	err := c.collection.Delete(ctx, nil, nil, id)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	delete(c.vectors, id)
	return nil
}

func (c *ChromemIndex) Get(id string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vectors[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

func (c *ChromemIndex) Len() int {
	return c.collection.Count()
}

func (c *ChromemIndex) Dimension() int {
	return c.dimension
}

func (c *ChromemIndex) Metric() types.DistanceMetric {
	return types.MetricCosine
}

func (c *ChromemIndex) Close() error {
	return nil
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
