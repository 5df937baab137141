package storage

import (
	"context"

	"github.com/dshills/ragdoc/internal/jobs"
	"github.com/dshills/ragdoc/internal/pipeline"
	"github.com/dshills/ragdoc/pkg/types"
)

// Storage is the persistent backend of the job manager. It keeps jobs and
// their documentation trees, and receives the pipeline's intermediate
// results as they are produced.
type Storage interface {
	jobs.Store
	jobs.KeywordIndexer
	pipeline.Sink

	// GetEmbedding returns the stored vector of one unit
	GetEmbedding(ctx context.Context, jobID, unitID string) (*types.EmbeddingRecord, error)

	// ListEmbeddings returns every stored vector of a job ordered by unit ID
	ListEmbeddings(ctx context.Context, jobID string) ([]*types.EmbeddingRecord, error)

	// Units returns the stored forest of a job, which exists once parsing
	// has succeeded
	Units(ctx context.Context, jobID string) (*types.Forest, error)
}

var _ Storage = (*SQLiteStorage)(nil)
