package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragdoc/internal/searcher"
	"github.com/dshills/ragdoc/pkg/types"
)

func hitIDs(hits []searcher.KeywordHit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.UnitID
	}
	return ids
}

func TestKeywordIndex(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, id := buildTree(t, storage)
	tree, err := storage.Tree(ctx, id)
	require.NoError(t, err)

	idx, err := storage.KeywordIndex(ctx, tree)
	require.NoError(t, err)
	defer idx.Close()

	hits, err := idx.Search(ctx, searcher.KeywordQuery{Text: "add numbers", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "calc.py::add", hits[0].UnitID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score, "best first")
	}

	hits, err = idx.Search(ctx, searcher.KeywordQuery{Text: "numbers", Kinds: []types.UnitKind{types.KindModule}, Limit: 10})
	require.NoError(t, err)
	for _, h := range hits {
		assert.Equal(t, "calc.py", h.UnitID, "kind filter runs in SQL")
	}

	hits, err = idx.Search(ctx, searcher.KeywordQuery{Text: "add", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = idx.Search(ctx, searcher.KeywordQuery{Text: "zebra", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search(ctx, searcher.KeywordQuery{Text: `add" OR NOT (*`, Limit: 10})
	require.NoError(t, err, "operators in the query are matched as words")
	assert.Contains(t, hitIDs(hits), "calc.py::add")

	_, err = storage.KeywordIndex(ctx, &types.DocTree{JobID: "missing"})
	assert.Error(t, err)
}

func TestKeywordIndex_PlaceholdersAreNotSearchable(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, storage.Create(ctx, newJob("j1", "calc", time.Now())))
	require.NoError(t, storage.SaveUnits(ctx, "j1", parseForest(t)))

	require.NoError(t, storage.SaveFragment(ctx, "j1", &types.Fragment{
		UnitID: "calc.py::sub", Text: "Subtracts the subtrahend.", GeneratedAt: time.Now(),
	}))
	require.NoError(t, storage.SaveFragment(ctx, "j1", &types.Fragment{
		UnitID: "calc.py::add", Text: "documentation unavailable: quota", Placeholder: true, GeneratedAt: time.Now(),
	}))

	idx, err := storage.KeywordIndex(ctx, &types.DocTree{JobID: "j1"})
	require.NoError(t, err)

	hits, err := idx.Search(ctx, searcher.KeywordQuery{Text: "subtrahend", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"calc.py::sub"}, hitIDs(hits))

	hits, err = idx.Search(ctx, searcher.KeywordQuery{Text: "quota", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)

	// A regenerated fragment replaces the old text.
	require.NoError(t, storage.SaveFragment(ctx, "j1", &types.Fragment{
		UnitID: "calc.py::sub", Text: "Returns the difference.", GeneratedAt: time.Now(),
	}))
	hits, err = idx.Search(ctx, searcher.KeywordQuery{Text: "subtrahend", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestKeywordIndex_ScopedToJob(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	for _, id := range []string{"j1", "j2"} {
		require.NoError(t, storage.Create(ctx, newJob(id, "calc", time.Now().Add(-2*time.Hour))))
		require.NoError(t, storage.SaveUnits(ctx, id, parseForest(t)))
	}
	require.NoError(t, storage.Apply(ctx, types.JobUpdate{JobID: "j1", Status: types.StatusCompleted, At: time.Now().Add(-2 * time.Hour)}))

	j2, err := storage.KeywordIndex(ctx, &types.DocTree{JobID: "j2"})
	require.NoError(t, err)
	hits, err := j2.Search(ctx, searcher.KeywordQuery{Text: "add", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"calc.py::add"}, hitIDs(hits))

	// Saving the forest again replaces its rows instead of adding more.
	require.NoError(t, storage.SaveUnits(ctx, "j2", parseForest(t)))
	hits, err = j2.Search(ctx, searcher.KeywordQuery{Text: "add", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"calc.py::add"}, hitIDs(hits))

	purged, err := storage.Purge(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, purged)

	var rows int
	require.NoError(t, storage.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM units_fts WHERE job_id = ?`, "j1").Scan(&rows))
	assert.Zero(t, rows, "purge removes the job's search rows")
	require.NoError(t, storage.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM units_fts WHERE job_id = ?`, "j2").Scan(&rows))
	assert.Equal(t, 3, rows)
}

func TestKeywordIndex_BackfilledByMigration(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	_, id := buildTree(t, storage)

	require.NoError(t, RollbackMigration(ctx, storage.db))
	require.NoError(t, ApplyMigrations(ctx, storage.db))

	idx, err := storage.KeywordIndex(ctx, &types.DocTree{JobID: id})
	require.NoError(t, err)
	hits, err := idx.Search(ctx, searcher.KeywordQuery{Text: "numbers", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "calc.py::add", hits[0].UnitID)
}

func TestMemoryKeywordIndexer(t *testing.T) {
	source := setupTestDB(t)
	ctx := context.Background()
	_, id := buildTree(t, source)
	tree, err := source.Tree(ctx, id)
	require.NoError(t, err)

	idx, err := MemoryKeywordIndexer{}.KeywordIndex(ctx, tree)
	require.NoError(t, err)

	hits, err := idx.Search(ctx, searcher.KeywordQuery{Text: "numbers", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "calc.py::add", hits[0].UnitID)

	require.NoError(t, idx.Close())
	_, err = idx.Search(ctx, searcher.KeywordQuery{Text: "numbers", Limit: 10})
	assert.Error(t, err, "closing drops the database")

	_, err = MemoryKeywordIndexer{}.KeywordIndex(ctx, &types.DocTree{JobID: id})
	assert.ErrorIs(t, err, types.ErrMissingForest)
}

func TestMatchExpression(t *testing.T) {
	assert.Equal(t, `"parsefile" OR "parse" OR "file"`, matchExpression("ParseFile"))
	assert.Equal(t, `"add" OR "or" OR "not"`, matchExpression(`add" OR NOT (*`))
	assert.Equal(t, `"add"`, matchExpression("add add ADD"))
	assert.Empty(t, matchExpression(`"*()`))
}

func TestSearchTerms(t *testing.T) {
	u := &types.CodeUnit{Name: "Calculator.parseFile", Roles: []string{"test"}}
	assert.Equal(t, "calculator parse file test", searchTerms(u))
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"ParseFile", []string{"parsefile", "parse", "file"}},
		{"parse_file(x)", []string{"parse_file", "parse", "file", "x"}},
		{"HTTPServer", []string{"httpserver", "http", "server"}},
		{"a.b", []string{"a", "b"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.in))
		})
	}
}
