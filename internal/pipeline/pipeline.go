package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/ragdoc/internal/assembler"
	"github.com/dshills/ragdoc/internal/chunker"
	"github.com/dshills/ragdoc/internal/config"
	"github.com/dshills/ragdoc/internal/embedder"
	"github.com/dshills/ragdoc/internal/generator"
	"github.com/dshills/ragdoc/internal/logging"
	"github.com/dshills/ragdoc/internal/parser"
	"github.com/dshills/ragdoc/internal/searcher"
	"github.com/dshills/ragdoc/internal/vectorindex"
	"github.com/dshills/ragdoc/pkg/types"
)

// Progress weights. Parsing ends at ParsedProgress, embedding at
// EmbeddedProgress and per-unit assembly at AssembledProgress; the project
// summary closes the run at 1.0.
const (
	ParsedProgress    = 0.10
	EmbeddedProgress  = 0.50
	AssembledProgress = 0.95
)

// Job messages
const (
	MsgQueued     = "Queued"
	MsgParsing    = "Analyzing code structure..."
	MsgEmbedding  = "Generating embeddings..."
	MsgAssembling = "Generating documentation..."
	MsgSummary    = "Summarizing project..."
	MsgCompleted  = "Documentation generated successfully"
)

// IndexFactory creates the vector index of one run. owned reports whether
// the pipeline should close the index when the run ends.
type IndexFactory func(run config.RunConfig, jobID string) (index vectorindex.Index, owned bool, err error)

// Pipeline runs one repository through parse, embed, assemble and
// summarize. A Pipeline is bound to one RunConfig; it may run several jobs
// concurrently.
type Pipeline struct {
	run       config.RunConfig
	parser    *parser.Parser
	chunker   *chunker.Chunker
	embedder  embedder.Embedder
	generator generator.Generator
	sink      Sink
	newIndex  IndexFactory
	logger    *zap.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logging.OrNop(l)
	}
}

// WithSink persists run artifacts as they are produced
func WithSink(s Sink) Option {
	return func(p *Pipeline) {
		p.sink = s
	}
}

// WithIndexFactory overrides how the per-run vector index is created
func WithIndexFactory(f IndexFactory) Option {
	return func(p *Pipeline) {
		if f != nil {
			p.newIndex = f
		}
	}
}

// New creates a pipeline. A nil embedder or generator is accepted here and
// fails each run with a user-facing message instead.
func New(run config.RunConfig, emb embedder.Embedder, gen generator.Generator, opts ...Option) *Pipeline {
	p := &Pipeline{
		run:       run,
		chunker:   chunker.New(),
		embedder:  emb,
		generator: gen,
		logger:    zap.NewNop(),
		newIndex: func(run config.RunConfig, jobID string) (vectorindex.Index, bool, error) {
			idx, err := vectorindex.New(run, jobID)
			return idx, true, err
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.parser = parser.New(parser.WithWorkers(run.Workers), parser.WithLogger(p.logger))
	return p
}

// Config returns the run configuration
func (p *Pipeline) Config() config.RunConfig {
	return p.run
}

// runState holds the state of one job
type runState struct {
	job      types.Job
	tracker  *Tracker
	forest   *types.Forest
	guard    *embedder.Guard
	index    vectorindex.Index
	failures map[string]error
	logger   *zap.Logger
}

// Run processes files for job and returns its documentation tree. job must
// be pending. Every state change is sent to reporter. The returned error is
// always a *types.PipelineError; the job has been moved to failed with its
// user message by then.
func (p *Pipeline) Run(ctx context.Context, job types.Job, files []types.SourceFile, reporter Reporter) (*types.DocTree, error) {
	if job.Status != "" && job.Status != types.StatusPending {
		return nil, types.NewPipelineError(types.ReasonInconsistent, "job is not pending",
			fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, job.ID, job.Status))
	}

	st := &runState{
		job:      job,
		tracker:  NewTracker(job, reporter),
		failures: make(map[string]error),
		logger:   p.logger.With(zap.String("job_id", job.ID), zap.String("repository_id", job.RepositoryID)),
	}

	JobsInProgress.Inc()
	defer JobsInProgress.Dec()

	tree, err := p.execute(ctx, st, files)
	if err != nil {
		var pe *types.PipelineError
		if !errors.As(err, &pe) {
			pe = types.NewPipelineError(types.ReasonInconsistent, "", err)
		}
		if ferr := st.tracker.Fail(pe.UserMessage()); ferr != nil {
			st.logger.Error("failed to mark job failed", zap.Error(ferr))
		}
		JobsTotal.WithLabelValues(string(types.StatusFailed), string(pe.Reason)).Inc()
		st.logger.Info("job failed",
			zap.String("reason", string(pe.Reason)),
			zap.Error(pe))
		return nil, pe
	}

	if err := st.tracker.Complete(MsgCompleted); err != nil {
		return nil, types.NewPipelineError(types.ReasonInconsistent, "", err)
	}
	JobsTotal.WithLabelValues(string(types.StatusCompleted), "").Inc()
	st.logger.Info("job completed",
		zap.Int("units", st.forest.Len()),
		zap.Int("placeholders", tree.PlaceholderCount()),
		zap.Int("parse_failures", len(st.forest.Failures)))
	return tree, nil
}

func (p *Pipeline) execute(ctx context.Context, st *runState, files []types.SourceFile) (*types.DocTree, error) {
	if err := p.run.Validate(); err != nil {
		return nil, types.NewPipelineError(types.ReasonInconsistent, "invalid run configuration", err)
	}
	if p.generator == nil {
		return nil, types.NewPipelineError(types.ReasonGeneratorUnavailable, "", assembler.ErrNoGenerator)
	}
	guard, err := embedder.NewGuard(p.embedder, p.run)
	if err != nil {
		if errors.Is(err, embedder.ErrNoProviderEnabled) {
			return nil, types.NewPipelineError(types.ReasonEmbedderUnavailable, "", err)
		}
		return nil, types.NewPipelineError(types.ReasonInconsistent, "embedder does not match run configuration", err)
	}
	st.guard = guard

	if err := p.parse(ctx, st, files); err != nil {
		return nil, err
	}

	index, owned, err := p.newIndex(p.run, st.job.ID)
	if err != nil {
		return nil, types.NewPipelineError(types.ReasonInconsistent, "vector index unavailable", err)
	}
	if owned {
		defer func() {
			if err := index.Close(); err != nil {
				st.logger.Warn("failed to close vector index", zap.Error(err))
			}
		}()
	}
	st.index = index

	if err := p.embed(ctx, st); err != nil {
		return nil, err
	}
	return p.assemble(ctx, st)
}

// parse runs while the job is pending; the job moves to processing once
// the forest is known to be non-empty
func (p *Pipeline) parse(ctx context.Context, st *runState, files []types.SourceFile) error {
	defer observeStage(types.StageParse, time.Now())
	st.tracker.Progress(types.StageParse, 0, 0, 0, MsgParsing)

	forest, err := p.parser.Parse(ctx, files)
	if err != nil {
		if ctx.Err() != nil {
			return types.NewPipelineError(types.ReasonCancelled, "", ctx.Err())
		}
		return types.NewPipelineError(types.ReasonInconsistent, "parsed units do not form a forest", err)
	}
	for _, f := range forest.Failures {
		st.logger.Warn("file skipped", zap.String("path", f.Path), zap.Error(f.Err))
	}
	if forest.Len() == 0 {
		detail := ""
		if len(files) > 0 {
			detail = fmt.Sprintf("%d files skipped", len(files))
		}
		return types.NewPipelineError(types.ReasonNoUnits, detail, nil)
	}
	st.forest = forest

	if p.sink != nil {
		if err := p.sink.SaveUnits(context.WithoutCancel(ctx), st.job.ID, forest); err != nil {
			st.logger.Warn("failed to persist units", zap.Error(err))
		}
	}

	msg := fmt.Sprintf("Parsed %d units from %d files", forest.Len(), len(files)-len(forest.Failures))
	if err := st.tracker.Start(types.StageParse, ParsedProgress, forest.Len(), msg); err != nil {
		return types.NewPipelineError(types.ReasonInconsistent, "", err)
	}
	return nil
}

// embed embeds every unit in parallel. Index writes are serialized by the
// index itself. A per-unit failure is remembered and later becomes a
// placeholder; a dimension mismatch ends the run.
func (p *Pipeline) embed(ctx context.Context, st *runState) error {
	defer observeStage(types.StageEmbed, time.Now())

	total := st.forest.Len()
	var (
		mu   sync.Mutex
		done int
	)
	st.tracker.Progress(types.StageEmbed, ParsedProgress, 0, total, MsgEmbedding)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.run.Workers)
	for _, u := range st.forest.Units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// Started units run to completion.
			callCtx := context.WithoutCancel(gctx)

			chunk := p.chunker.Prepare(u, st.forest, p.run.EmbedMaxTokens)
			record, err := st.guard.Embed(callCtx, u.ID, chunk.Text, chunk.Context)
			if err != nil {
				var mismatch *types.DimensionMismatchError
				if errors.As(err, &mismatch) {
					return err
				}
				UnitsProcessed.WithLabelValues(string(types.StageEmbed), "error").Inc()
				st.logger.Warn("embedding failed", zap.String("unit_id", u.ID), zap.Error(err))
				mu.Lock()
				st.failures[u.ID] = err
				mu.Unlock()
			} else {
				meta := vectorindex.Metadata{"kind": string(u.Kind), "path": u.Path}
				if _, err := st.index.Upsert(callCtx, u.ID, record.Vector, meta); err != nil {
					return fmt.Errorf("indexing %s: %w", u.ID, err)
				}
				UnitsProcessed.WithLabelValues(string(types.StageEmbed), "ok").Inc()
				if p.sink != nil {
					if err := p.sink.SaveEmbedding(callCtx, st.job.ID, record); err != nil {
						st.logger.Warn("failed to persist embedding", zap.String("unit_id", u.ID), zap.Error(err))
					}
				}
			}

			mu.Lock()
			done++
			n := done
			mu.Unlock()
			progress := ParsedProgress + (EmbeddedProgress-ParsedProgress)*float64(n)/float64(total)
			st.tracker.Progress(types.StageEmbed, progress, n, total, MsgEmbedding)
			return nil
		})
	}

	err := g.Wait()
	return p.stageError(ctx, err)
}

// assemble documents units by ascending height. Units of one height run in
// parallel; a level starts only after the previous one is fully stored.
func (p *Pipeline) assemble(ctx context.Context, st *runState) (*types.DocTree, error) {
	start := time.Now()

	s := searcher.New(st.forest, st.index)
	asm, err := assembler.New(p.run, st.forest, s, p.generator, assembler.NewFragmentStore(),
		assembler.WithLogger(st.logger),
		assembler.WithRepositoryID(st.job.RepositoryID))
	if err != nil {
		return nil, types.NewPipelineError(types.ReasonGeneratorUnavailable, "", err)
	}

	total := st.forest.Len()
	var (
		mu   sync.Mutex
		done int
	)
	st.tracker.Progress(types.StageAssemble, EmbeddedProgress, 0, total, MsgAssembling)

	for _, level := range st.forest.Levels() {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.run.Workers)
		for _, u := range level {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				frag, err := asm.Assemble(gctx, u, st.failures[u.ID])
				if err != nil {
					return err
				}
				p.recordFragment(ctx, st, frag)

				mu.Lock()
				done++
				n := done
				mu.Unlock()
				progress := EmbeddedProgress + (AssembledProgress-EmbeddedProgress)*float64(n)/float64(total)
				st.tracker.Progress(types.StageAssemble, progress, n, total, MsgAssembling)
				return nil
			})
		}
		if err := p.stageError(ctx, g.Wait()); err != nil {
			return nil, err
		}
	}
	observeStage(types.StageAssemble, start)

	defer observeStage(types.StageSummarize, time.Now())
	if err := ctx.Err(); err != nil {
		return nil, types.NewPipelineError(types.ReasonCancelled, "", err)
	}
	st.tracker.Progress(types.StageSummarize, AssembledProgress, total, total, MsgSummary)

	summary, err := asm.AssembleProject(ctx)
	if err != nil {
		return nil, types.NewPipelineError(types.ReasonInconsistent, "", err)
	}
	p.recordFragment(ctx, st, summary)

	tree, err := asm.Tree(st.job.ID)
	if err != nil {
		return nil, types.NewPipelineError(types.ReasonInconsistent, "documentation tree incomplete", err)
	}
	return tree, nil
}

func (p *Pipeline) recordFragment(ctx context.Context, st *runState, frag *types.Fragment) {
	result := "ok"
	if frag.Placeholder {
		result = "placeholder"
		PlaceholderFragments.WithLabelValues(frag.Reason).Inc()
	}
	UnitsProcessed.WithLabelValues(string(types.StageAssemble), result).Inc()

	if p.sink != nil {
		if err := p.sink.SaveFragment(context.WithoutCancel(ctx), st.job.ID, frag); err != nil {
			st.logger.Warn("failed to persist fragment", zap.String("unit_id", frag.UnitID), zap.Error(err))
		}
	}
}

// stageError classifies the error that stopped a stage
func (p *Pipeline) stageError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return types.NewPipelineError(types.ReasonCancelled, "", ctx.Err())
	}
	if err == nil {
		return nil
	}
	var mismatch *types.DimensionMismatchError
	if errors.As(err, &mismatch) {
		return types.NewPipelineError(types.ReasonInconsistent, "embedding dimension mismatch", err)
	}
	return types.NewPipelineError(types.ReasonInconsistent, "", err)
}

func observeStage(stage types.Stage, start time.Time) {
	StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
}
