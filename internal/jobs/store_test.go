package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragdoc/pkg/types"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, types.Job{ID: "a", RepositoryID: "r1", Status: types.StatusPending, CreatedAt: base}))
	require.NoError(t, s.Create(ctx, types.Job{ID: "b", RepositoryID: "r2", Status: types.StatusPending, CreatedAt: base.Add(time.Minute)}))
	assert.ErrorIs(t, s.Create(ctx, types.Job{ID: "a"}), ErrJobExists)

	require.NoError(t, s.Apply(ctx, types.JobUpdate{JobID: "a", Status: types.StatusCompleted, Progress: 1, Message: "done", At: base}))
	assert.ErrorIs(t, s.Apply(ctx, types.JobUpdate{JobID: "zz"}), ErrJobNotFound)

	job, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, job.Status)
	assert.Equal(t, "done", job.Message)
	assert.Nil(t, job.Tree)

	_, err = s.Tree(ctx, "a")
	assert.ErrorIs(t, err, ErrTreeNotReady)
	tree := &types.DocTree{JobID: "a"}
	require.NoError(t, s.SetTree(ctx, "a", tree))
	got, err := s.Tree(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, tree, got)
	assert.ErrorIs(t, s.SetTree(ctx, "zz", tree), ErrJobNotFound)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID, "newest first")

	r1, err := s.List(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, r1, 1)

	purged, err := s.Purge(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, purged, "pending jobs are never purged")

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = s.Get(ctx, "b")
	assert.NoError(t, err)
}
