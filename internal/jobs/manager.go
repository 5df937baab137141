package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/ragdoc/internal/config"
	"github.com/dshills/ragdoc/internal/embedder"
	"github.com/dshills/ragdoc/internal/generator"
	"github.com/dshills/ragdoc/internal/logging"
	"github.com/dshills/ragdoc/internal/pipeline"
	"github.com/dshills/ragdoc/internal/searcher"
	"github.com/dshills/ragdoc/internal/vectorindex"
	"github.com/dshills/ragdoc/pkg/types"
)

var (
	// ErrAlreadyRunning is returned when the repository already has a
	// running job
	ErrAlreadyRunning = errors.New("a job is already running for this repository")

	// ErrJobFinished is returned when cancelling a job that has ended
	ErrJobFinished = errors.New("job has already finished")

	// ErrEmptyRepositoryID is returned by Submit without a repository ID
	ErrEmptyRepositoryID = errors.New("repository ID cannot be empty")
)

// Manager runs pipeline jobs in the background and answers status
// queries from its Store
type Manager struct {
	run      config.RunConfig
	embedder embedder.Embedder
	pipeline *pipeline.Pipeline
	store    Store
	loader   EmbeddingLoader
	keywords KeywordIndexer
	logger   *zap.Logger
	now      func() time.Time

	locks repoLocks

	mu        sync.Mutex
	running   map[string]*runningJob
	indexes   map[string]vectorindex.Index
	searchers map[string]*jobSearcher
	wg        sync.WaitGroup
}

// jobSearcher is the searcher of one completed job and the keyword index
// it owns
type jobSearcher struct {
	searcher *searcher.Searcher
	keywords searcher.KeywordIndex
}

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// EmbeddingLoader reads back the vectors a job's sink persisted
type EmbeddingLoader interface {
	ListEmbeddings(ctx context.Context, jobID string) ([]*types.EmbeddingRecord, error)
}

// KeywordIndexer opens the full-text index of a completed job
type KeywordIndexer interface {
	KeywordIndex(ctx context.Context, tree *types.DocTree) (searcher.KeywordIndex, error)
}

type managerOptions struct {
	logger   *zap.Logger
	sink     pipeline.Sink
	loader   EmbeddingLoader
	keywords KeywordIndexer
}

// Option configures a Manager
type Option func(*managerOptions)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(o *managerOptions) {
		o.logger = l
	}
}

// WithSink persists each run's units, embeddings and fragments
func WithSink(s pipeline.Sink) Option {
	return func(o *managerOptions) {
		o.sink = s
	}
}

// WithEmbeddingLoader lets Search rebuild the vector index of a job that
// finished in an earlier process
func WithEmbeddingLoader(l EmbeddingLoader) Option {
	return func(o *managerOptions) {
		o.loader = l
	}
}

// WithKeywordIndexer enables keyword and hybrid full-text ranking
func WithKeywordIndexer(k KeywordIndexer) Option {
	return func(o *managerOptions) {
		o.keywords = k
	}
}

// NewManager creates a Manager. The embedder and generator are selected
// once and shared by every job; run is fixed for the Manager's lifetime.
func NewManager(run config.RunConfig, emb embedder.Embedder, gen generator.Generator, store Store, opts ...Option) *Manager {
	o := managerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		run:       run,
		embedder:  emb,
		store:     store,
		loader:    o.loader,
		keywords:  o.keywords,
		logger:    logging.OrNop(o.logger),
		now:       time.Now,
		running:   make(map[string]*runningJob),
		indexes:   make(map[string]vectorindex.Index),
		searchers: make(map[string]*jobSearcher),
	}

	popts := []pipeline.Option{
		pipeline.WithLogger(m.logger),
		pipeline.WithIndexFactory(m.createIndex),
	}
	if o.sink != nil {
		popts = append(popts, pipeline.WithSink(o.sink))
	}
	m.pipeline = pipeline.New(run, emb, gen, popts...)
	return m
}

// createIndex keeps each job's index so completed jobs stay searchable
func (m *Manager) createIndex(run config.RunConfig, jobID string) (vectorindex.Index, bool, error) {
	idx, err := vectorindex.New(run, jobID)
	if err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	m.indexes[jobID] = idx
	m.mu.Unlock()
	return idx, false, nil
}

// Submit creates a pending job for files and starts it in the background.
// The job is not tied to ctx; use Cancel to stop it.
func (m *Manager) Submit(ctx context.Context, repositoryID string, files []types.SourceFile) (string, error) {
	if repositoryID == "" {
		return "", ErrEmptyRepositoryID
	}

	lock := m.locks.get(repositoryID)
	if !lock.TryAcquire() {
		return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, repositoryID)
	}

	now := m.now().UTC()
	job := types.Job{
		ID:           uuid.NewString(),
		RepositoryID: repositoryID,
		Status:       types.StatusPending,
		Message:      pipeline.MsgQueued,
		Stage:        types.StageQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.Create(ctx, job); err != nil {
		lock.Release()
		return "", fmt.Errorf("creating job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	rj := &runningJob{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.running[job.ID] = rj
	m.mu.Unlock()

	m.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("repository_id", repositoryID),
		zap.Int("files", len(files)))

	// The lock is released before the job leaves running, so a caller
	// that sees the job finished can submit the repository again.
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(rj.done)
		defer m.finish(job.ID)
		defer lock.Release()
		defer cancel()
		m.execute(runCtx, job, files)
	}()

	return job.ID, nil
}

func (m *Manager) execute(ctx context.Context, job types.Job, files []types.SourceFile) {
	// Status writes must land even after cancellation.
	storeCtx := context.WithoutCancel(ctx)
	report := func(u types.JobUpdate) {
		if err := m.store.Apply(storeCtx, u); err != nil {
			m.logger.Error("failed to record job update", zap.String("job_id", u.JobID), zap.Error(err))
		}
	}

	tree, err := m.pipeline.Run(ctx, job, files, report)
	if err == nil {
		err = m.store.SetTree(storeCtx, job.ID, tree)
		if err != nil {
			m.logger.Error("failed to store documentation tree", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if err != nil {
		m.dropIndex(job.ID)
	}
}

func (m *Manager) finish(jobID string) {
	m.mu.Lock()
	delete(m.running, jobID)
	m.mu.Unlock()
}

// Wait blocks until the job ends or ctx is done and returns its state
func (m *Manager) Wait(ctx context.Context, jobID string) (types.Job, error) {
	m.mu.Lock()
	rj, ok := m.running[jobID]
	m.mu.Unlock()

	if ok {
		select {
		case <-rj.done:
		case <-ctx.Done():
			return types.Job{}, ctx.Err()
		}
	}
	return m.Status(ctx, jobID)
}

// Cancel stops a running job at its next unit boundary
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	m.mu.Lock()
	rj, ok := m.running[jobID]
	m.mu.Unlock()

	if ok {
		rj.cancel()
		m.logger.Info("job cancellation requested", zap.String("job_id", jobID))
		return nil
	}
	if _, err := m.store.Get(ctx, jobID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrJobFinished, jobID)
}

// Status returns the job's current state
func (m *Manager) Status(ctx context.Context, jobID string) (types.Job, error) {
	return m.store.Get(ctx, jobID)
}

// List returns jobs newest first; an empty repositoryID lists all
func (m *Manager) List(ctx context.Context, repositoryID string) ([]types.Job, error) {
	return m.store.List(ctx, repositoryID)
}

// Tree returns the documentation tree of a completed job
func (m *Manager) Tree(ctx context.Context, jobID string) (*types.DocTree, error) {
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != types.StatusCompleted {
		return nil, fmt.Errorf("%w (status %s)", ErrTreeNotReady, job.Status)
	}

	// The completed status is recorded just before the tree is stored.
	m.mu.Lock()
	rj, running := m.running[jobID]
	m.mu.Unlock()
	if running {
		select {
		case <-rj.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.store.Tree(ctx, jobID)
}

// Search runs a free-text search over a completed job's units. Each job
// keeps one searcher, so repeated queries are answered from its cache.
// Vector ranking needs the job's index, which is rebuilt from persisted
// embeddings when the job finished in an earlier process.
func (m *Manager) Search(ctx context.Context, jobID string, req searcher.SearchRequest) (*searcher.SearchResponse, error) {
	tree, err := m.Tree(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s, err := m.searcherFor(ctx, tree)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, req)
}

func (m *Manager) searcherFor(ctx context.Context, tree *types.DocTree) (*searcher.Searcher, error) {
	jobID := tree.JobID
	m.mu.Lock()
	js, ok := m.searchers[jobID]
	idx, indexed := m.indexes[jobID]
	m.mu.Unlock()
	if ok {
		return js.searcher, nil
	}

	text := func(id string) string {
		if f, ok := tree.Fragments[id]; ok && !f.Placeholder {
			return f.Text
		}
		return ""
	}
	opts := []searcher.Option{searcher.WithText(text)}

	if !indexed && m.loader != nil && m.embedder != nil {
		idx, indexed = m.restoreIndex(ctx, jobID, tree.Forest)
	}
	if indexed && m.embedder != nil {
		opts = append(opts, searcher.WithEmbedder(m.embedder))
	}

	js = &jobSearcher{}
	if m.keywords != nil {
		k, err := m.keywords.KeywordIndex(ctx, tree)
		if err != nil {
			return nil, fmt.Errorf("opening keyword index: %w", err)
		}
		js.keywords = k
		opts = append(opts, searcher.WithKeywordIndex(k))
	}
	js.searcher = searcher.New(tree.Forest, idx, opts...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.searchers[jobID]; ok {
		js.close(m.logger, jobID)
		return existing.searcher, nil
	}
	m.searchers[jobID] = js
	return js.searcher, nil
}

func (js *jobSearcher) close(logger *zap.Logger, jobID string) {
	if js.keywords == nil {
		return
	}
	if err := js.keywords.Close(); err != nil {
		logger.Warn("failed to close keyword index", zap.String("job_id", jobID), zap.Error(err))
	}
}

// Purge deletes finished jobs older than maxAge and releases their indexes
func (m *Manager) Purge(ctx context.Context, maxAge time.Duration) ([]string, error) {
	purged, err := m.store.Purge(ctx, m.now().Add(-maxAge))
	if err != nil {
		return nil, fmt.Errorf("purging jobs: %w", err)
	}
	for _, id := range purged {
		m.dropIndex(id)
	}
	if len(purged) > 0 {
		m.logger.Info("purged jobs", zap.Int("count", len(purged)))
	}
	return purged, nil
}

// Close cancels running jobs, waits for them and releases every index and
// searcher
func (m *Manager) Close() error {
	m.mu.Lock()
	for _, rj := range m.running {
		rj.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for id, idx := range m.indexes {
		if err := idx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing index %s: %w", id, err))
		}
		delete(m.indexes, id)
	}
	for id, js := range m.searchers {
		if js.keywords != nil {
			if err := js.keywords.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing keyword index %s: %w", id, err))
			}
		}
		delete(m.searchers, id)
	}
	return errors.Join(errs...)
}

// restoreIndex rebuilds a job's index from persisted embeddings. Failures
// are logged and searches fall back to keywords.
func (m *Manager) restoreIndex(ctx context.Context, jobID string, forest *types.Forest) (vectorindex.Index, bool) {
	records, err := m.loader.ListEmbeddings(ctx, jobID)
	if err != nil || len(records) == 0 {
		if err != nil {
			m.logger.Warn("failed to load embeddings", zap.String("job_id", jobID), zap.Error(err))
		}
		return nil, false
	}

	idx, err := vectorindex.New(m.run, jobID)
	if err != nil {
		m.logger.Warn("failed to create vector index", zap.String("job_id", jobID), zap.Error(err))
		return nil, false
	}
	for _, r := range records {
		u, ok := forest.Get(r.UnitID)
		if !ok {
			continue
		}
		meta := vectorindex.Metadata{"kind": string(u.Kind), "path": u.Path}
		if _, err := idx.Upsert(ctx, r.UnitID, r.Vector, meta); err != nil {
			_ = idx.Close()
			m.logger.Warn("failed to restore vector index", zap.String("job_id", jobID), zap.Error(err))
			return nil, false
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.indexes[jobID]; ok {
		_ = idx.Close()
		return existing, true
	}
	m.indexes[jobID] = idx
	m.logger.Debug("restored vector index", zap.String("job_id", jobID), zap.Int("vectors", len(records)))
	return idx, true
}

// dropIndex releases a job's vector index and its searcher
func (m *Manager) dropIndex(jobID string) {
	m.mu.Lock()
	idx, ok := m.indexes[jobID]
	delete(m.indexes, jobID)
	js, searched := m.searchers[jobID]
	delete(m.searchers, jobID)
	m.mu.Unlock()
	if searched {
		js.close(m.logger, jobID)
	}
	if ok {
		if err := idx.Close(); err != nil {
			m.logger.Warn("failed to close vector index", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}
