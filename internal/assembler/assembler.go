package assembler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/ragdoc/internal/config"
	"github.com/dshills/ragdoc/internal/generator"
	"github.com/dshills/ragdoc/internal/logging"
	"github.com/dshills/ragdoc/internal/searcher"
	"github.com/dshills/ragdoc/pkg/types"
)

var (
	// ErrNoGenerator is returned by New when no generator is supplied
	ErrNoGenerator = errors.New("no text generator configured")

	// ErrMissingChild is returned when a composite is assembled before one
	// of its children has a fragment
	ErrMissingChild = errors.New("child fragment missing")

	// ErrUnknownUnit is returned for a unit outside the forest
	ErrUnknownUnit = errors.New("unknown unit")
)

// Placeholder reasons
const (
	ReasonNoEmbedding      = "embedding failed"
	ReasonGenerationFailed = "generation failed"
	ReasonTimeout          = "generation timed out"
)

// Assembler builds generation inputs from the forest, the vector index and
// the fragments already stored, and records one fragment per unit
type Assembler struct {
	run          config.RunConfig
	forest       *types.Forest
	heights      map[string]int
	searcher     *searcher.Searcher
	generator    generator.Generator
	store        *FragmentStore
	repositoryID string
	logger       *zap.Logger
}

// Option configures an Assembler
type Option func(*Assembler)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		a.logger = logging.OrNop(l)
	}
}

// WithRepositoryID names the repository in the project summary
func WithRepositoryID(id string) Option {
	return func(a *Assembler) {
		a.repositoryID = id
	}
}

// New creates an Assembler. The searcher must be built over the same forest.
func New(run config.RunConfig, forest *types.Forest, s *searcher.Searcher, gen generator.Generator, store *FragmentStore, opts ...Option) (*Assembler, error) {
	if gen == nil {
		return nil, ErrNoGenerator
	}
	if store == nil {
		store = NewFragmentStore()
	}
	a := &Assembler{
		run:       run,
		forest:    forest,
		heights:   forest.Heights(),
		searcher:  s,
		generator: gen,
		store:     store,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Store returns the fragment store
func (a *Assembler) Store() *FragmentStore {
	return a.store
}

// Assemble produces the fragment of one unit. embedErr is the unit's
// embedding failure, if any; such a unit gets a placeholder without a
// generator call. Generation failures also become placeholders. The
// returned error is reserved for states the pipeline cannot recover from.
func (a *Assembler) Assemble(ctx context.Context, unit *types.CodeUnit, embedErr error) (*types.Fragment, error) {
	if _, ok := a.forest.Get(unit.ID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnit, unit.ID)
	}
	if f, ok := a.store.Get(unit.ID); ok {
		return f, nil
	}

	children, err := a.childSummaries(unit.Children)
	if err != nil {
		return nil, fmt.Errorf("assembling %s: %w", unit.ID, err)
	}

	if embedErr != nil {
		a.logger.Warn("unit has no embedding, recording placeholder",
			zap.String("unit_id", unit.ID),
			zap.Error(embedErr))
		f, _ := a.store.PutIfAbsent(types.NewPlaceholder(unit.ID, ReasonNoEmbedding))
		return f, nil
	}

	related, err := a.retrieve(ctx, unit)
	if err != nil {
		return nil, err
	}

	in := generator.Input{
		UnitID:     unit.ID,
		Kind:       unit.Kind,
		Name:       unit.Name,
		Path:       unit.Path,
		Language:   unit.Language,
		Signature:  unit.Signature,
		DocComment: unit.DocComment,
		Span:       unit.Span,
		References: unit.References,
		Context:    a.contextItems(unit, related),
		Children:   children,
	}
	if unit.Kind == types.KindFunction {
		in.Source = unit.Source
	}

	sources := append([]string{unit.ID}, related.IDs()...)
	return a.generate(ctx, in, sources), nil
}

// AssembleProject produces the project summary from the module fragments
// in forest order. Every unit descends from the project node, so the
// summary has no retrieval context.
func (a *Assembler) AssembleProject(ctx context.Context) (*types.Fragment, error) {
	if f, ok := a.store.Get(types.ProjectNodeID); ok {
		return f, nil
	}

	roots := a.forest.Roots()
	ids := make([]string, len(roots))
	for i, r := range roots {
		ids[i] = r.ID
	}
	children, err := a.childSummaries(ids)
	if err != nil {
		return nil, fmt.Errorf("assembling project summary: %w", err)
	}

	in := generator.Input{
		UnitID:   types.ProjectNodeID,
		Kind:     types.KindModule,
		Name:     a.repositoryID,
		Children: children,
		Project:  true,
	}
	return a.generate(ctx, in, []string{types.ProjectNodeID}), nil
}

// Tree returns the finished documentation tree after validating it
func (a *Assembler) Tree(jobID string) (*types.DocTree, error) {
	fragments, summary := a.store.Snapshot()
	tree := &types.DocTree{
		RepositoryID: a.repositoryID,
		JobID:        jobID,
		Summary:      summary,
		Fragments:    fragments,
		Forest:       a.forest,
	}
	if err := tree.Validate(); err != nil {
		return nil, err
	}
	return tree, nil
}

func (a *Assembler) generate(ctx context.Context, in generator.Input, sources []string) *types.Fragment {
	// In-flight calls finish even when the job is cancelled; the per-call
	// timeout still applies.
	callCtx := context.WithoutCancel(ctx)
	if a.run.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, a.run.GenerateTimeout)
		defer cancel()
	}

	text, err := a.generator.Generate(callCtx, in)
	if err == nil && text == "" {
		err = generator.ErrEmptyResponse
	}
	if err != nil {
		genErr := &types.GenerationError{UnitID: in.UnitID, Err: err}
		reason := ReasonGenerationFailed
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		a.logger.Warn("generation failed, recording placeholder",
			zap.String("unit_id", in.UnitID),
			zap.String("generator", a.generator.Name()),
			zap.Error(genErr))
		f, _ := a.store.PutIfAbsent(types.NewPlaceholder(in.UnitID, reason))
		return f
	}

	f, _ := a.store.PutIfAbsent(&types.Fragment{
		UnitID:  in.UnitID,
		Text:    text,
		Sources: sources,
	})
	return f
}

func (a *Assembler) retrieve(ctx context.Context, unit *types.CodeUnit) (types.RetrievalResult, error) {
	if a.run.K <= 0 || a.searcher == nil {
		return types.RetrievalResult{QueryID: unit.ID}, nil
	}
	// A started unit runs to completion; cancellation is seen between units.
	res, err := a.searcher.Related(context.WithoutCancel(ctx), unit.ID, a.run.K)
	if err != nil {
		return types.RetrievalResult{}, err
	}
	if err := res.Validate(a.run.K); err != nil {
		return types.RetrievalResult{}, fmt.Errorf("retrieval for %s: %w", unit.ID, err)
	}
	return res, nil
}

// contextItems renders neighbors closest first. A neighbor's fragment is
// used only when it sits at a lower height than unit: those are complete
// before unit's level starts, so the input does not depend on scheduling.
func (a *Assembler) contextItems(unit *types.CodeUnit, res types.RetrievalResult) []generator.ContextItem {
	if len(res.Neighbors) == 0 {
		return nil
	}
	height := a.heights[unit.ID]
	items := make([]generator.ContextItem, 0, len(res.Neighbors))
	for _, n := range res.Neighbors {
		item := generator.ContextItem{UnitID: n.UnitID, Distance: n.Distance}
		if f, ok := a.store.Get(n.UnitID); ok && !f.Placeholder && a.heights[n.UnitID] < height {
			item.Excerpt = searcher.Excerpt(f.Text, a.run.ExcerptChars)
			item.Documented = true
		} else if u, ok := a.forest.Get(n.UnitID); ok {
			item.Excerpt = searcher.Excerpt(u.Source, a.run.ExcerptChars)
		}
		items = append(items, item)
	}
	return items
}

func (a *Assembler) childSummaries(ids []string) ([]generator.ChildSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	out := make([]generator.ChildSummary, 0, len(ids))
	for _, id := range ids {
		f, ok := a.store.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingChild, id)
		}
		c, _ := a.forest.Get(id)
		out = append(out, generator.ChildSummary{
			UnitID:      id,
			Kind:        c.Kind,
			Name:        c.Name,
			Text:        f.Text,
			Placeholder: f.Placeholder,
		})
	}
	return out, nil
}
