package vectorindex

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragdoc/internal/config"
	"github.com/dshills/ragdoc/pkg/types"
)

type factory func(t *testing.T, dim int) Index

func backends() map[string]factory {
	return map[string]factory{
		"memory": func(t *testing.T, dim int) Index {
			idx, err := NewMemoryIndex(dim, types.MetricCosine)
			require.NoError(t, err)
			return idx
		},
		"chromem": func(t *testing.T, dim int) Index {
			idx, err := NewChromemIndex(ChromemOptions{Dimension: dim})
			require.NoError(t, err)
			return idx
		},
		"chromem persistent": func(t *testing.T, dim int) Index {
			idx, err := NewChromemIndex(ChromemOptions{Path: t.TempDir(), Dimension: dim, Collection: "job-1"})
			require.NoError(t, err)
			return idx
		},
	}
}

func upsertAll(t *testing.T, idx Index, vectors map[string][]float32) {
	t.Helper()
	for id, v := range vectors {
		_, err := idx.Upsert(context.Background(), id, v, Metadata{"kind": "function"})
		require.NoError(t, err)
	}
}

func TestIndexContract(t *testing.T) {
	ctx := context.Background()

	for name, newIndex := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("orders by distance then id", func(t *testing.T) {
				idx := newIndex(t, 2)
				upsertAll(t, idx, map[string][]float32{
					"b": {1, 0},
					"a": {1, 0},
					"c": {0, 1},
					"d": {1, 1},
				})

				res, err := idx.Query(ctx, []float32{1, 0}, 3, nil)
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "b", "d"}, res.IDs())
				assert.NoError(t, res.Validate(3))
			})

			t.Run("repeated queries are identical", func(t *testing.T) {
				idx := newIndex(t, 3)
				vectors := make(map[string][]float32)
				for i := 0; i < 40; i++ {
					vectors[fmt.Sprintf("u%02d", i)] = []float32{float32(i%5) + 1, float32(i%3) + 1, 1}
				}
				upsertAll(t, idx, vectors)

				first, err := idx.Query(ctx, []float32{1, 2, 3}, 10, nil)
				require.NoError(t, err)
				for i := 0; i < 5; i++ {
					again, err := idx.Query(ctx, []float32{1, 2, 3}, 10, nil)
					require.NoError(t, err)
					assert.Equal(t, first, again)
				}
				assert.NoError(t, first.Validate(10))
			})

			t.Run("exclusion", func(t *testing.T) {
				idx := newIndex(t, 2)
				upsertAll(t, idx, map[string][]float32{
					"self":   {1, 0},
					"parent": {1, 0.1},
					"peer":   {1, 0.5},
					"far":    {0, 1},
				})

				res, err := idx.Query(ctx, []float32{1, 0}, 2, NewExclusion("self", "parent"))
				require.NoError(t, err)
				assert.Equal(t, []string{"peer", "far"}, res.IDs())
			})

			t.Run("k bounds", func(t *testing.T) {
				idx := newIndex(t, 2)
				upsertAll(t, idx, map[string][]float32{"a": {1, 0}, "b": {0, 1}})

				res, err := idx.Query(ctx, []float32{1, 0}, 0, nil)
				require.NoError(t, err)
				assert.Equal(t, 0, res.Len())

				res, err = idx.Query(ctx, []float32{1, 0}, 10, nil)
				require.NoError(t, err)
				assert.Equal(t, []string{"a", "b"}, res.IDs())
			})

			t.Run("empty index", func(t *testing.T) {
				idx := newIndex(t, 2)
				res, err := idx.Query(ctx, []float32{1, 0}, 5, nil)
				require.NoError(t, err)
				assert.Equal(t, 0, res.Len())
			})

			t.Run("dimension mismatch", func(t *testing.T) {
				idx := newIndex(t, 3)
				_, err := idx.Upsert(ctx, "a", []float32{1, 0}, nil)
				var mismatch *types.DimensionMismatchError
				require.ErrorAs(t, err, &mismatch)
				assert.Equal(t, 3, mismatch.Expected)
				assert.Equal(t, 2, mismatch.Got)

				_, err = idx.Query(ctx, []float32{1}, 1, nil)
				assert.ErrorAs(t, err, &mismatch)

				_, err = idx.Upsert(ctx, "", []float32{1, 0, 0}, nil)
				assert.ErrorIs(t, err, ErrEmptyID)
			})

			t.Run("upsert replaces", func(t *testing.T) {
				idx := newIndex(t, 2)
				replaced, err := idx.Upsert(ctx, "a", []float32{1, 0}, nil)
				require.NoError(t, err)
				assert.False(t, replaced)

				replaced, err = idx.Upsert(ctx, "a", []float32{0, 1}, nil)
				require.NoError(t, err)
				assert.True(t, replaced)
				assert.Equal(t, 1, idx.Len())

				v, ok := idx.Get("a")
				require.True(t, ok)
				assert.Equal(t, []float32{0, 1}, v)

				upsertAll(t, idx, map[string][]float32{"b": {1, 0.2}})
				res, err := idx.Query(ctx, []float32{0, 1}, 1, nil)
				require.NoError(t, err)
				assert.Equal(t, []string{"a"}, res.IDs())
			})

			t.Run("remove is idempotent and never stale", func(t *testing.T) {
				idx := newIndex(t, 2)
				upsertAll(t, idx, map[string][]float32{"a": {1, 0}, "b": {0, 1}})

				require.NoError(t, idx.Remove(ctx, "a"))
				require.NoError(t, idx.Remove(ctx, "a"))
				require.NoError(t, idx.Remove(ctx, "never-there"))
				assert.Equal(t, 1, idx.Len())

				_, ok := idx.Get("a")
				assert.False(t, ok)

				res, err := idx.Query(ctx, []float32{1, 0}, 5, nil)
				require.NoError(t, err)
				assert.Equal(t, []string{"b"}, res.IDs())
			})

			t.Run("concurrent upserts", func(t *testing.T) {
				idx := newIndex(t, 2)
				var wg sync.WaitGroup
				for i := 0; i < 50; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						_, err := idx.Upsert(ctx, fmt.Sprintf("u%02d", i), []float32{1, float32(i)}, nil)
						assert.NoError(t, err)
					}(i)
				}
				wg.Wait()
				assert.Equal(t, 50, idx.Len())
			})
		})
	}
}

func TestMemoryIndex_Euclidean(t *testing.T) {
	idx, err := NewMemoryIndex(2, types.MetricEuclidean)
	require.NoError(t, err)
	upsertAll(t, idx, map[string][]float32{
		"near": {1, 1},
		"long": {10, 0},
		"zero": {0, 0},
	})

	res, err := idx.Query(context.Background(), []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"near", "zero", "long"}, res.IDs())
	assert.InDelta(t, 1.0, res.Neighbors[0].Distance, 1e-9)
	assert.InDelta(t, 9.0, res.Neighbors[2].Distance, 1e-9)
	assert.Equal(t, types.MetricEuclidean, idx.Metric())

	meta, ok := idx.Metadata("near")
	require.True(t, ok)
	assert.Equal(t, "function", meta["kind"])
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 0.0, Distance(types.MetricCosine, []float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 1.0, Distance(types.MetricCosine, []float32{1, 0}, []float32{0, 3}), 1e-9)
	assert.InDelta(t, 2.0, Distance(types.MetricCosine, []float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.InDelta(t, 1.0, Distance(types.MetricCosine, []float32{0, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 5.0, Distance(types.MetricEuclidean, []float32{0, 0}, []float32{3, 4}), 1e-9)
}

func TestChromemIndex_Errors(t *testing.T) {
	_, err := NewChromemIndex(ChromemOptions{Dimension: 2, Metric: types.MetricEuclidean})
	assert.ErrorIs(t, err, ErrUnsupportedMetric)

	_, err = NewChromemIndex(ChromemOptions{Dimension: 0})
	assert.ErrorIs(t, err, ErrInvalidDimension)

	idx, err := NewChromemIndex(ChromemOptions{Dimension: 2})
	require.NoError(t, err)
	_, err = idx.Upsert(context.Background(), "z", []float32{0, 0}, nil)
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestNew(t *testing.T) {
	run := config.DefaultRun()
	run.Dimension = 4

	idx, err := New(run, "job")
	require.NoError(t, err)
	assert.IsType(t, &MemoryIndex{}, idx)
	assert.Equal(t, 4, idx.Dimension())

	run.Backend = BackendChromem
	idx, err = New(run, "job")
	require.NoError(t, err)
	assert.IsType(t, &ChromemIndex{}, idx)

	run.Backend = "faiss"
	_, err = New(run, "job")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
