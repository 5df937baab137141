package jobs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragdoc/internal/config"
	"github.com/dshills/ragdoc/internal/embedder"
	"github.com/dshills/ragdoc/internal/generator"
	"github.com/dshills/ragdoc/internal/searcher"
	"github.com/dshills/ragdoc/pkg/types"
)

var calcFiles = []types.SourceFile{
	{Path: "calc.py", Text: "def add(a, b):\n    \"\"\"Add two numbers.\"\"\"\n    return a + b\n\n\ndef sub(a, b):\n    return a - b\n"},
}

// blockingGenerator holds every call until release is closed
type blockingGenerator struct {
	release chan struct{}
	once    sync.Once
	started chan struct{}
}

func newBlocking() *blockingGenerator {
	return &blockingGenerator{release: make(chan struct{}), started: make(chan struct{})}
}

func (b *blockingGenerator) Name() string { return "blocking" }

func (b *blockingGenerator) Generate(context.Context, generator.Input) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return "text", nil
}

// textIndexer opens keyword indexes that match fragment text by substring
type textIndexer struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (x *textIndexer) KeywordIndex(_ context.Context, tree *types.DocTree) (searcher.KeywordIndex, error) {
	x.mu.Lock()
	x.opened++
	x.mu.Unlock()
	return &textIndex{tree: tree, owner: x}, nil
}

func (x *textIndexer) counts() (opened, closed int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.opened, x.closed
}

type textIndex struct {
	tree  *types.DocTree
	owner *textIndexer
}

func (i *textIndex) Search(_ context.Context, q searcher.KeywordQuery) ([]searcher.KeywordHit, error) {
	var hits []searcher.KeywordHit
	for _, u := range i.tree.Forest.Units {
		f := i.tree.Fragments[u.ID]
		if f == nil || len(hits) == q.Limit {
			continue
		}
		for _, word := range strings.Fields(strings.ToLower(q.Text)) {
			if strings.Contains(strings.ToLower(f.Text), word) {
				hits = append(hits, searcher.KeywordHit{UnitID: u.ID, Score: 1})
				break
			}
		}
	}
	return hits, nil
}

func (i *textIndex) Close() error {
	i.owner.mu.Lock()
	i.owner.closed++
	i.owner.mu.Unlock()
	return nil
}

func newManager(t *testing.T, gen generator.Generator, opts ...Option) *Manager {
	t.Helper()
	run := config.DefaultRun().WithK(2)
	run.Dimension = 16
	emb, err := embedder.NewHashProvider(16, nil)
	require.NoError(t, err)

	m := NewManager(run, emb, gen, NewMemoryStore(), opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestManager_SubmitAndWait(t *testing.T) {
	m := newManager(t, generator.NewTemplate())
	ctx := context.Background()

	id, err := m.Submit(ctx, "calc", calcFiles)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	job, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, job.Status)
	assert.Equal(t, 1.0, job.Progress)
	assert.Equal(t, "calc", job.RepositoryID)
	assert.Equal(t, 3, job.UnitsTotal)

	tree, err := m.Tree(ctx, id)
	require.NoError(t, err)
	assert.Len(t, tree.Fragments, 3)
	assert.Equal(t, id, tree.JobID)

	jobs, err := m.List(ctx, "calc")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
}

func TestManager_AlreadyRunning(t *testing.T) {
	gen := newBlocking()
	m := newManager(t, gen)
	ctx := context.Background()

	first, err := m.Submit(ctx, "calc", calcFiles)
	require.NoError(t, err)
	<-gen.started

	_, err = m.Submit(ctx, "calc", calcFiles)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	other, err := m.Submit(ctx, "other", calcFiles)
	require.NoError(t, err, "other repositories are not blocked")

	close(gen.release)
	for _, id := range []string{first, other} {
		job, err := m.Wait(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, job.Status)
	}

	again, err := m.Submit(ctx, "calc", calcFiles)
	require.NoError(t, err, "the lock is released when the job ends")
	_, err = m.Wait(ctx, again)
	require.NoError(t, err)
}

func TestManager_ResubmitAfterWait(t *testing.T) {
	m := newManager(t, generator.NewTemplate())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		id, err := m.Submit(ctx, "calc", calcFiles)
		require.NoError(t, err, "submission %d", i)
		job, err := m.Wait(ctx, id)
		require.NoError(t, err)
		require.Equal(t, types.StatusCompleted, job.Status)
	}
}

func TestManager_TreeRightAfterCompletedStatus(t *testing.T) {
	m := newManager(t, generator.NewTemplate())
	ctx := context.Background()

	id, err := m.Submit(ctx, "calc", calcFiles)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := m.Status(ctx, id)
		return err == nil && job.Status == types.StatusCompleted
	}, 5*time.Second, time.Millisecond)

	tree, err := m.Tree(ctx, id)
	require.NoError(t, err)
	assert.Len(t, tree.Fragments, 3)
}

func TestManager_Cancel(t *testing.T) {
	gen := newBlocking()
	m := newManager(t, gen)
	ctx := context.Background()

	id, err := m.Submit(ctx, "calc", calcFiles)
	require.NoError(t, err)
	<-gen.started

	require.NoError(t, m.Cancel(ctx, id))
	close(gen.release)

	job, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, job.Status)
	assert.Equal(t, "processing cancelled", job.Message)

	assert.ErrorIs(t, m.Cancel(ctx, id), ErrJobFinished)
	assert.ErrorIs(t, m.Cancel(ctx, "missing"), ErrJobNotFound)

	_, err = m.Tree(ctx, id)
	assert.ErrorIs(t, err, ErrTreeNotReady)
}

func TestManager_NoUnits(t *testing.T) {
	m := newManager(t, generator.NewTemplate())
	ctx := context.Background()

	_, err := m.Submit(ctx, "", nil)
	assert.ErrorIs(t, err, ErrEmptyRepositoryID)

	id, err := m.Submit(ctx, "empty", nil)
	require.NoError(t, err)

	job, err := m.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, job.Status)
	assert.Contains(t, job.Message, "no units were found")
}

func TestManager_WaitContextDone(t *testing.T) {
	gen := newBlocking()
	m := newManager(t, gen)

	id, err := m.Submit(context.Background(), "calc", calcFiles)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gen.release)
	_, err = m.Wait(context.Background(), id)
	require.NoError(t, err)
}

func TestManager_Search(t *testing.T) {
	m := newManager(t, generator.NewTemplate(), WithKeywordIndexer(&textIndexer{}))
	ctx := context.Background()

	id, err := m.Submit(ctx, "calc", calcFiles)
	require.NoError(t, err)
	_, err = m.Wait(ctx, id)
	require.NoError(t, err)

	for _, mode := range []searcher.SearchMode{searcher.SearchModeKeyword, searcher.SearchModeHybrid, searcher.SearchModeVector} {
		resp, err := m.Search(ctx, id, searcher.SearchRequest{Query: "add numbers", Mode: mode, Limit: 5})
		require.NoError(t, err, mode)
		ids := make([]string, len(resp.Results))
		for i, r := range resp.Results {
			ids[i] = r.UnitID
		}
		assert.Contains(t, ids, "calc.py::add", mode)
	}
}

func TestManager_SearchWithoutKeywordIndexer(t *testing.T) {
	m := newManager(t, generator.NewTemplate())
	ctx := context.Background()

	id, err := m.Submit(ctx, "calc", calcFiles)
	require.NoError(t, err)
	_, err = m.Wait(ctx, id)
	require.NoError(t, err)

	_, err = m.Search(ctx, id, searcher.SearchRequest{Query: "add", Mode: searcher.SearchModeKeyword})
	assert.ErrorIs(t, err, searcher.ErrNoKeywordIndex)

	resp, err := m.Search(ctx, id, searcher.SearchRequest{Query: "add"})
	require.NoError(t, err, "hybrid ranks by vector alone")
	assert.NotEmpty(t, resp.Results)
	assert.Equal(t, 0, resp.TextResults)
}

func TestManager_SearchReusesSearcher(t *testing.T) {
	indexer := &textIndexer{}
	m := newManager(t, generator.NewTemplate(), WithKeywordIndexer(indexer))
	ctx := context.Background()

	id, err := m.Submit(ctx, "calc", calcFiles)
	require.NoError(t, err)
	_, err = m.Wait(ctx, id)
	require.NoError(t, err)

	req := searcher.SearchRequest{Query: "add numbers", UseCache: true}
	first, err := m.Search(ctx, id, req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := m.Search(ctx, id, req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Results, second.Results)

	opened, closed := indexer.counts()
	assert.Equal(t, 1, opened, "one keyword index per job")
	assert.Equal(t, 0, closed)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Purge(ctx, time.Hour)
	require.NoError(t, err)
	_, closed = indexer.counts()
	assert.Equal(t, 1, closed, "purge releases the keyword index")
	m.mu.Lock()
	assert.Empty(t, m.searchers)
	m.mu.Unlock()
}

func TestManager_Purge(t *testing.T) {
	m := newManager(t, generator.NewTemplate())
	ctx := context.Background()

	id, err := m.Submit(ctx, "calc", calcFiles)
	require.NoError(t, err)
	_, err = m.Wait(ctx, id)
	require.NoError(t, err)

	purged, err := m.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, purged, "recent jobs are kept")

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	purged, err = m.Purge(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, purged)

	_, err = m.Status(ctx, id)
	assert.ErrorIs(t, err, ErrJobNotFound)
	m.mu.Lock()
	assert.Empty(t, m.indexes)
	m.mu.Unlock()
}

func TestRepoLock(t *testing.T) {
	var l RepoLock
	assert.True(t, l.TryAcquire())
	assert.True(t, l.Held())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.False(t, l.Held())
	assert.True(t, l.TryAcquire())

	var locks repoLocks
	assert.Same(t, locks.get("a"), locks.get("a"))
	assert.NotSame(t, locks.get("a"), locks.get("b"))
}
