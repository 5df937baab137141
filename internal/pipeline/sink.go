package pipeline

import (
	"context"

	"github.com/dshills/ragdoc/pkg/types"
)

// Sink receives the artifacts of a run as they are produced. Sink errors
// are logged and do not fail the run.
type Sink interface {
	SaveUnits(ctx context.Context, jobID string, forest *types.Forest) error
	SaveEmbedding(ctx context.Context, jobID string, record *types.EmbeddingRecord) error

	// SaveFragment receives unit fragments and, last, the project summary
	// under types.ProjectNodeID
	SaveFragment(ctx context.Context, jobID string, fragment *types.Fragment) error
}
