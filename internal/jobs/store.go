package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/ragdoc/pkg/types"
)

var (
	// ErrJobNotFound is returned for an unknown job ID
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists is returned when creating a job whose ID is taken
	ErrJobExists = errors.New("job already exists")

	// ErrTreeNotReady is returned when a job has no documentation tree yet
	ErrTreeNotReady = errors.New("documentation not available: job has not completed")
)

// Store persists jobs and the documentation trees of completed jobs.
// Implementations must be safe for concurrent use.
type Store interface {
	Create(ctx context.Context, job types.Job) error
	Get(ctx context.Context, jobID string) (types.Job, error)

	// Apply records a status update from the pipeline
	Apply(ctx context.Context, update types.JobUpdate) error

	SetTree(ctx context.Context, jobID string, tree *types.DocTree) error
	Tree(ctx context.Context, jobID string) (*types.DocTree, error)

	// List returns jobs newest first; an empty repositoryID lists all
	List(ctx context.Context, repositoryID string) ([]types.Job, error)

	// Purge deletes terminal jobs last updated before cutoff and returns
	// their IDs
	Purge(ctx context.Context, cutoff time.Time) ([]string, error)

	Close() error
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu    sync.RWMutex
	jobs  map[string]*types.Job
	trees map[string]*types.DocTree
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:  make(map[string]*types.Job),
		trees: make(map[string]*types.DocTree),
	}
}

func (s *MemoryStore) Create(_ context.Context, job types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	j := job
	s.jobs[job.ID] = &j
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return types.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	out := j.Snapshot()
	out.Tree = s.trees[jobID]
	return out, nil
}

func (s *MemoryStore) Apply(_ context.Context, update types.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[update.JobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, update.JobID)
	}
	j.Apply(update)
	return nil
}

func (s *MemoryStore) SetTree(_ context.Context, jobID string, tree *types.DocTree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	s.trees[jobID] = tree
	return nil
}

func (s *MemoryStore) Tree(_ context.Context, jobID string) (*types.DocTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	tree, ok := s.trees[jobID]
	if !ok {
		return nil, ErrTreeNotReady
	}
	return tree, nil
}

func (s *MemoryStore) List(_ context.Context, repositoryID string) ([]types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if repositoryID == "" || j.RepositoryID == repositoryID {
			out = append(out, j.Snapshot())
		}
	}
	SortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Purge(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged []string
	for id, j := range s.jobs {
		if j.Status.IsTerminal() && j.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.trees, id)
			purged = append(purged, id)
		}
	}
	sort.Strings(purged)
	return purged, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// SortNewestFirst orders jobs by creation time, newest first, ties by ID
func SortNewestFirst(jobs []types.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
