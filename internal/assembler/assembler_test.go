package assembler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/ragdoc/internal/chunker"
	"github.com/dshills/ragdoc/internal/config"
	"github.com/dshills/ragdoc/internal/embedder"
	"github.com/dshills/ragdoc/internal/generator"
	"github.com/dshills/ragdoc/internal/parser"
	"github.com/dshills/ragdoc/internal/searcher"
	"github.com/dshills/ragdoc/internal/vectorindex"
	"github.com/dshills/ragdoc/pkg/types"
)

const calcPy = `def add(a, b):
    return a + b


def sub(a, b):
    return a - b


class Calc:
    def total(self, x):
        return add(x, x)
`

type recordingGenerator struct {
	mu     sync.Mutex
	inputs map[string]generator.Input
	err    error
	delay  time.Duration
}

func newRecorder() *recordingGenerator {
	return &recordingGenerator{inputs: make(map[string]generator.Input)}
}

func (r *recordingGenerator) Name() string { return "recorder" }

func (r *recordingGenerator) Generate(ctx context.Context, in generator.Input) (string, error) {
	if r.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.delay):
		}
	}
	r.mu.Lock()
	r.inputs[in.UnitID] = in
	r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	return "doc " + in.UnitID, nil
}

func (r *recordingGenerator) input(t *testing.T, id string) generator.Input {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	in, ok := r.inputs[id]
	require.True(t, ok, "no generation input for %s", id)
	return in
}

type fixture struct {
	run      config.RunConfig
	forest   *types.Forest
	searcher *searcher.Searcher
}

func setup(t *testing.T, k int) fixture {
	t.Helper()
	ctx := context.Background()

	forest, err := parser.New().Parse(ctx, []types.SourceFile{{Path: "m.py", Text: calcPy}})
	require.NoError(t, err)

	run := config.DefaultRun().WithK(k)
	run.Dimension = 16

	emb, err := embedder.NewHashProvider(run.Dimension, nil)
	require.NoError(t, err)
	index, err := vectorindex.NewMemoryIndex(run.Dimension, run.Metric)
	require.NoError(t, err)

	c := chunker.New()
	for _, u := range forest.Units {
		chunk := c.Prepare(u, forest, run.EmbedMaxTokens)
		vec, err := emb.Embed(ctx, chunk.Text, chunk.Context)
		require.NoError(t, err)
		_, err = index.Upsert(ctx, u.ID, vec, nil)
		require.NoError(t, err)
	}

	return fixture{run: run, forest: forest, searcher: searcher.New(forest, index)}
}

func (f fixture) assembler(t *testing.T, gen generator.Generator) *Assembler {
	t.Helper()
	a, err := New(f.run, f.forest, f.searcher, gen, nil, WithRepositoryID("calc"))
	require.NoError(t, err)
	return a
}

func (f fixture) unit(t *testing.T, id string) *types.CodeUnit {
	t.Helper()
	u, ok := f.forest.Get(id)
	require.True(t, ok)
	return u
}

func assembleAll(t *testing.T, a *Assembler, f fixture) {
	t.Helper()
	for _, level := range f.forest.Levels() {
		for _, u := range level {
			_, err := a.Assemble(context.Background(), u, nil)
			require.NoError(t, err)
		}
	}
	_, err := a.AssembleProject(context.Background())
	require.NoError(t, err)
}

func TestFragmentStore_PutIfAbsent(t *testing.T) {
	s := NewFragmentStore()
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	first, ok := s.PutIfAbsent(&types.Fragment{UnitID: "a", Text: "one"})
	require.True(t, ok)
	again, ok := s.PutIfAbsent(&types.Fragment{UnitID: "a", Text: "two"})
	assert.False(t, ok)
	assert.Equal(t, "one", again.Text)
	assert.Same(t, first, again)

	second, ok := s.PutIfAbsent(&types.Fragment{UnitID: "b"})
	require.True(t, ok)
	assert.True(t, second.GeneratedAt.After(first.GeneratedAt), "timestamps strictly increase under a frozen clock")
	assert.Equal(t, 2, s.Len())
}

func TestFragmentStore_Concurrent(t *testing.T) {
	s := NewFragmentStore()
	var wg sync.WaitGroup
	inserted := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := s.PutIfAbsent(&types.Fragment{UnitID: "same"})
			inserted <- ok
		}()
	}
	wg.Wait()
	close(inserted)

	count := 0
	for ok := range inserted {
		if ok {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestFragmentStore_Snapshot(t *testing.T) {
	s := NewFragmentStore()
	s.PutIfAbsent(&types.Fragment{UnitID: "a"})
	s.PutIfAbsent(&types.Fragment{UnitID: types.ProjectNodeID})

	fragments, summary := s.Snapshot()
	assert.Len(t, fragments, 1)
	require.NotNil(t, summary)
	assert.Equal(t, types.ProjectNodeID, summary.UnitID)
}

func TestNew_RequiresGenerator(t *testing.T) {
	f := setup(t, 0)
	_, err := New(f.run, f.forest, f.searcher, nil, nil)
	assert.ErrorIs(t, err, ErrNoGenerator)
}

func TestAssemble_LeafWithoutPeers(t *testing.T) {
	f := setup(t, 0)
	rec := newRecorder()
	a := f.assembler(t, rec)

	frag, err := a.Assemble(context.Background(), f.unit(t, "m.py::add"), nil)
	require.NoError(t, err)
	assert.Equal(t, "doc m.py::add", frag.Text)
	assert.Equal(t, []string{"m.py::add"}, frag.Sources)
	assert.False(t, frag.Placeholder)

	in := rec.input(t, "m.py::add")
	assert.Empty(t, in.Context)
	assert.Contains(t, in.Source, "return a + b")
	assert.Equal(t, 1, in.Span.StartLine)
}

func TestAssemble_RetrievalContext(t *testing.T) {
	f := setup(t, 10)
	rec := newRecorder()
	a := f.assembler(t, rec)

	_, err := a.Assemble(context.Background(), f.unit(t, "m.py::add"), nil)
	require.NoError(t, err)
	_, err = a.Assemble(context.Background(), f.unit(t, "m.py::Calc.total"), nil)
	require.NoError(t, err)

	total := rec.input(t, "m.py::Calc.total")
	ids := make([]string, len(total.Context))
	for i, c := range total.Context {
		ids[i] = c.UnitID
		// add sits at the same height, so its fragment is not visible yet.
		assert.False(t, c.Documented)
		assert.NotEmpty(t, c.Excerpt)
	}
	assert.ElementsMatch(t, []string{"m.py::add", "m.py::sub"}, ids, "self and ancestors are excluded")
	for i := 1; i < len(total.Context); i++ {
		assert.LessOrEqual(t, total.Context[i-1].Distance, total.Context[i].Distance)
	}

	frag, _ := a.Store().Get("m.py::Calc.total")
	assert.Equal(t, "m.py::Calc.total", frag.Sources[0])
	assert.Len(t, frag.Sources, 3)

	_, err = a.Assemble(context.Background(), f.unit(t, "m.py::sub"), nil)
	require.NoError(t, err)
	_, err = a.Assemble(context.Background(), f.unit(t, "m.py::Calc"), nil)
	require.NoError(t, err)

	calc := rec.input(t, "m.py::Calc")
	require.Len(t, calc.Context, 2)
	for _, c := range calc.Context {
		assert.True(t, c.Documented, "lower-height fragments are used")
		assert.Equal(t, "doc "+c.UnitID, c.Excerpt)
	}
	require.Len(t, calc.Children, 1)
	assert.Equal(t, "doc m.py::Calc.total", calc.Children[0].Text)
	assert.Empty(t, calc.Source)
}

func TestAssemble_CompositeBeforeChildren(t *testing.T) {
	f := setup(t, 0)
	a := f.assembler(t, newRecorder())

	_, err := a.Assemble(context.Background(), f.unit(t, "m.py"), nil)
	assert.ErrorIs(t, err, ErrMissingChild)
	assert.Equal(t, 0, a.Store().Len())
}

func TestAssemble_EmbeddingFailure(t *testing.T) {
	f := setup(t, 5)
	rec := newRecorder()
	a := f.assembler(t, rec)

	embedErr := &types.EmbeddingError{UnitID: "m.py::add", Err: embedder.ErrProviderFailed}
	frag, err := a.Assemble(context.Background(), f.unit(t, "m.py::add"), embedErr)
	require.NoError(t, err)
	assert.True(t, frag.Placeholder)
	assert.Equal(t, "documentation unavailable: embedding failed", frag.Text)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.inputs, "the generator is not called")
}

func TestAssemble_GenerationFailure(t *testing.T) {
	f := setup(t, 2)
	rec := newRecorder()
	rec.err = errors.New("model offline")
	a := f.assembler(t, rec)

	assembleAll(t, a, f)

	tree, err := a.Tree("job-1")
	require.NoError(t, err)
	assert.Equal(t, f.forest.Len(), len(tree.Fragments))
	assert.Equal(t, f.forest.Len(), tree.PlaceholderCount())
	for _, frag := range tree.Fragments {
		assert.Equal(t, "documentation unavailable: generation failed", frag.Text)
	}
	assert.True(t, tree.Summary.Placeholder)

	module := rec.input(t, "m.py")
	require.Len(t, module.Children, 3)
	assert.True(t, module.Children[0].Placeholder, "placeholders are aggregated, not propagated")
}

func TestAssemble_GenerationTimeout(t *testing.T) {
	f := setup(t, 0)
	f.run.GenerateTimeout = 10 * time.Millisecond
	rec := newRecorder()
	rec.delay = time.Second
	a := f.assembler(t, rec)

	frag, err := a.Assemble(context.Background(), f.unit(t, "m.py::add"), nil)
	require.NoError(t, err)
	assert.True(t, frag.Placeholder)
	assert.Equal(t, ReasonTimeout, frag.Reason)
}

func TestAssemble_Idempotent(t *testing.T) {
	f := setup(t, 0)
	a := f.assembler(t, newRecorder())

	first, err := a.Assemble(context.Background(), f.unit(t, "m.py::add"), nil)
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), f.unit(t, "m.py::add"), nil)
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestAssemble_UnknownUnit(t *testing.T) {
	f := setup(t, 0)
	a := f.assembler(t, newRecorder())
	_, err := a.Assemble(context.Background(), &types.CodeUnit{ID: "other.py"}, nil)
	assert.ErrorIs(t, err, ErrUnknownUnit)
}

func TestAssemble_BottomUpTree(t *testing.T) {
	f := setup(t, 3)
	a := f.assembler(t, generator.NewTemplate())

	assembleAll(t, a, f)

	tree, err := a.Tree("job-1")
	require.NoError(t, err)
	require.NoError(t, tree.Validate())
	assert.Equal(t, "calc", tree.RepositoryID)
	assert.Equal(t, "This project contains 1 modules. Modules: m.py.", tree.Summary.Text)

	module, ok := tree.Fragment("m.py")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(module.Text, "This module contains 1 classes and 2 functions."))

	for _, u := range f.forest.Units {
		parent := tree.Fragments[u.ID]
		for _, c := range u.Children {
			assert.True(t, tree.Fragments[c].GeneratedAt.Before(parent.GeneratedAt))
		}
	}
}

func TestTree_Incomplete(t *testing.T) {
	f := setup(t, 0)
	a := f.assembler(t, newRecorder())
	_, err := a.Assemble(context.Background(), f.unit(t, "m.py::add"), nil)
	require.NoError(t, err)

	_, err = a.Tree("job-1")
	assert.ErrorIs(t, err, types.ErrFragmentCount)
}
