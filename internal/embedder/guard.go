package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/ragdoc/internal/chunker"
	"github.com/dshills/ragdoc/internal/config"
	"github.com/dshills/ragdoc/pkg/types"
)

// ErrProviderMismatch is returned when the embedder differs from the
// provider fixed in the run configuration
var ErrProviderMismatch = errors.New("embedder does not match the run's provider")

// Guard binds an Embedder to one run. The provider and dimension are
// checked once at construction and every returned vector is checked
// against the run's dimension.
type Guard struct {
	embedder  Embedder
	dimension int
	maxTokens int
	timeout   time.Duration
	now       func() time.Time
}

// NewGuard checks that e matches run and wraps it
func NewGuard(e Embedder, run config.RunConfig) (*Guard, error) {
	if e == nil {
		return nil, ErrNoProviderEnabled
	}
	if e.Provider() != run.Provider {
		return nil, fmt.Errorf("%w: run uses %q, embedder is %q", ErrProviderMismatch, run.Provider, e.Provider())
	}
	if e.Dimension() != run.Dimension {
		return nil, &types.DimensionMismatchError{Expected: run.Dimension, Got: e.Dimension()}
	}
	return &Guard{
		embedder:  e,
		dimension: run.Dimension,
		maxTokens: run.EmbedMaxTokens,
		timeout:   run.EmbedTimeout,
		now:       time.Now,
	}, nil
}

// Provider returns the wrapped embedder's provider name
func (g *Guard) Provider() string {
	return g.embedder.Provider()
}

// Dimension returns the run's dimension
func (g *Guard) Dimension() int {
	return g.dimension
}

// Embed embeds one unit's prepared text.
//
// A wrong-length vector is returned as *types.DimensionMismatchError, which
// means the configuration is inconsistent. Every other failure, including
// a timeout, is a recoverable *types.EmbeddingError.
func (g *Guard) Embed(ctx context.Context, unitID, text, unitContext string) (*types.EmbeddingRecord, error) {
	if g.maxTokens > 0 && chunker.EstimateTokenCount(text)+chunker.EstimateTokenCount(unitContext) > g.maxTokens {
		return nil, &types.EmbeddingError{UnitID: unitID, Err: ErrTextTooLong}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	vector, err := g.embedder.Embed(ctx, text, unitContext)
	if err != nil {
		return nil, &types.EmbeddingError{UnitID: unitID, Err: err}
	}

	record := &types.EmbeddingRecord{
		UnitID:    unitID,
		Vector:    vector,
		Provider:  g.embedder.Provider(),
		CreatedAt: g.now(),
	}
	if err := record.Validate(g.dimension); err != nil {
		var mismatch *types.DimensionMismatchError
		if errors.As(err, &mismatch) {
			return nil, mismatch
		}
		return nil, &types.EmbeddingError{UnitID: unitID, Err: err}
	}
	return record, nil
}
