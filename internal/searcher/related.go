package searcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/ragdoc/internal/vectorindex"
	"github.com/dshills/ragdoc/pkg/types"
)

// ErrNoEmbedding is returned when the query unit has no vector in the index
var ErrNoEmbedding = errors.New("unit has no embedding")

// Exclusion returns the units a unit's own retrieval must skip: the unit,
// its ancestors and descendants, and any unit with identical content.
// Retrieving any of these would only restate structure the generator
// already sees.
func (s *Searcher) Exclusion(unitID string) vectorindex.Exclusion {
	ex := vectorindex.NewExclusion(unitID)
	ex.Add(s.forest.Ancestors(unitID)...)
	ex.Add(s.forest.Descendants(unitID)...)
	if u, ok := s.forest.Get(unitID); ok {
		ex.Add(s.byHash[u.ContentHash()]...)
	}
	return ex
}

// Related retrieves the k units nearest to unitID's own embedding,
// closest first, ties by ascending ID
func (s *Searcher) Related(ctx context.Context, unitID string, k int) (types.RetrievalResult, error) {
	if _, ok := s.forest.Get(unitID); !ok {
		return types.RetrievalResult{}, fmt.Errorf("unknown unit %s", unitID)
	}
	vector, ok := s.index.Get(unitID)
	if !ok {
		return types.RetrievalResult{}, fmt.Errorf("%w: %s", ErrNoEmbedding, unitID)
	}
	return s.RelatedTo(ctx, unitID, vector, k)
}

// RelatedTo is Related with an explicit query vector
func (s *Searcher) RelatedTo(ctx context.Context, unitID string, vector []float32, k int) (types.RetrievalResult, error) {
	res, err := s.index.Query(ctx, vector, k, s.Exclusion(unitID))
	if err != nil {
		return types.RetrievalResult{}, fmt.Errorf("retrieving for %s: %w", unitID, err)
	}
	res.QueryID = unitID
	return res, nil
}
