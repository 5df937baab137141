package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dshills/ragdoc/internal/jobs"
	"github.com/dshills/ragdoc/pkg/types"
)

// SaveEmbedding stores the current vector of a unit, replacing any
// earlier one
func (s *SQLiteStorage) SaveEmbedding(ctx context.Context, jobID string, record *types.EmbeddingRecord) error {
	query := `
		INSERT OR REPLACE INTO embeddings (job_id, unit_id, vector, dimension, provider, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		jobID, record.UnitID, serializeVector(record.Vector), len(record.Vector), record.Provider, toNanos(record.CreatedAt),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
		}
		return fmt.Errorf("failed to save embedding %s: %w", record.UnitID, err)
	}
	return nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, jobID, unitID string) (*types.EmbeddingRecord, error) {
	query := `SELECT unit_id, vector, dimension, provider, created_at FROM embeddings WHERE job_id = ? AND unit_id = ?`
	record, err := scanEmbedding(s.db.QueryRowContext(ctx, query, jobID, unitID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: embedding %s", ErrNotFound, unitID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}
	return record, nil
}

func (s *SQLiteStorage) ListEmbeddings(ctx context.Context, jobID string) ([]*types.EmbeddingRecord, error) {
	query := `SELECT unit_id, vector, dimension, provider, created_at FROM embeddings WHERE job_id = ? ORDER BY unit_id`
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.EmbeddingRecord
	for rows.Next() {
		record, err := scanEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func scanEmbedding(row rowScanner) (*types.EmbeddingRecord, error) {
	var (
		record    types.EmbeddingRecord
		blob      []byte
		dimension int
		createdAt int64
	)
	if err := row.Scan(&record.UnitID, &blob, &dimension, &record.Provider, &createdAt); err != nil {
		return nil, err
	}
	record.Vector = deserializeVector(blob)
	if len(record.Vector) != dimension {
		return nil, &types.DimensionMismatchError{Expected: dimension, Got: len(record.Vector)}
	}
	record.CreatedAt = fromNanos(createdAt)
	return &record, nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}
