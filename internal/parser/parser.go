package parser

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/ragdoc/internal/logging"
	"github.com/dshills/ragdoc/pkg/types"
)

// DefaultWorkers is the number of files parsed concurrently
const DefaultWorkers = 4

// Parser converts source files into a forest of code units
type Parser struct {
	workers int
	logger  *zap.Logger
}

// Option configures a Parser
type Option func(*Parser)

// WithWorkers sets the number of files parsed concurrently
func WithWorkers(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Parser) {
		p.logger = logging.OrNop(l)
	}
}

// New creates a new Parser instance
func New(opts ...Option) *Parser {
	p := &Parser{
		workers: DefaultWorkers,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// fileResult is the output of parsing one file, before references are
// resolved across files
type fileResult struct {
	lang    types.Language
	units   []*types.CodeUnit // pre-order, module first
	refs    map[string][]rawRef
	failure *types.ParseFailure
}

// Parse builds the unit forest for an ordered set of files. Files are parsed
// concurrently; the forest is assembled in input order so identical input
// always yields an identical forest. A file that fails to parse becomes a
// ParseFailure and never aborts the run.
func (p *Parser) Parse(ctx context.Context, files []types.SourceFile) (*types.Forest, error) {
	results := make([]*fileResult, len(files))
	seen := make(map[string]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, file := range files {
		if seen[file.Path] {
			results[i] = failedFile(file, &types.ParseError{File: file.Path, Message: "duplicate file path"})
			continue
		}
		seen[file.Path] = true

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = p.parseFile(file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("parse cancelled: %w", err)
	}

	units := make([]*types.CodeUnit, 0)
	failures := make([]types.ParseFailure, 0)
	for _, r := range results {
		if r.failure != nil {
			p.logger.Warn("file excluded",
				zap.String("path", r.failure.Path),
				zap.Error(r.failure.Err))
			failures = append(failures, *r.failure)
			continue
		}
		units = append(units, r.units...)
	}

	newResolver(results).resolve()

	forest, err := types.NewForest(units, failures)
	if err != nil {
		return nil, fmt.Errorf("failed to build forest: %w", err)
	}
	return forest, nil
}

// ParseFile parses a single file into its units. References are resolved
// within the file only.
func (p *Parser) ParseFile(file types.SourceFile) ([]*types.CodeUnit, *types.ParseFailure) {
	r := p.parseFile(file)
	if r.failure != nil {
		return nil, r.failure
	}
	newResolver([]*fileResult{r}).resolve()
	return r.units, nil
}

func (p *Parser) parseFile(file types.SourceFile) *fileResult {
	var r *fileResult
	switch DetectLanguage(file.Path) {
	case types.LangGo:
		r = parseGo(file)
	case types.LangPython:
		r = parsePython(file)
	default:
		return failedFile(file, &types.ParseError{File: file.Path, Message: "unsupported language"})
	}
	if r.failure == nil {
		for _, u := range r.units {
			detectRoles(u)
		}
	}
	return r
}

// DetectLanguage maps a file path to its language by extension
func DetectLanguage(filePath string) types.Language {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".go":
		return types.LangGo
	case ".py":
		return types.LangPython
	default:
		return ""
	}
}

// Supported reports whether the parser handles the file's language
func Supported(filePath string) bool {
	return DetectLanguage(filePath) != ""
}

func failedFile(file types.SourceFile, perr *types.ParseError) *fileResult {
	stub := &types.CodeUnit{
		ID:       file.Path,
		Kind:     types.KindUnparseable,
		Name:     file.Path,
		Path:     file.Path,
		Language: DetectLanguage(file.Path),
		Source:   file.Text,
		Span:     wholeFileSpan(file.Text),
	}
	return &fileResult{
		failure: &types.ParseFailure{Path: file.Path, Stub: stub, Err: perr},
	}
}

// newModule builds the module unit for a file
func newModule(file types.SourceFile, lang types.Language) *types.CodeUnit {
	return &types.CodeUnit{
		ID:       types.UnitID(file.Path, ""),
		Kind:     types.KindModule,
		Name:     file.Path,
		Path:     file.Path,
		Language: lang,
		Source:   file.Text,
		Span:     wholeFileSpan(file.Text),
	}
}

func wholeFileSpan(text string) types.Span {
	lines := strings.Count(text, "\n") + 1
	if strings.HasSuffix(text, "\n") {
		lines--
	}
	if lines < 1 {
		lines = 1
	}
	return types.Span{StartLine: 1, EndLine: lines, StartByte: 0, EndByte: len(text)}
}

// idAllocator hands out unique IDs within one file. Repeated qualified
// names get a "#n" suffix in source order.
type idAllocator struct {
	seen map[string]int
}

func newIDAllocator() *idAllocator {
	return &idAllocator{seen: make(map[string]int)}
}

func (a *idAllocator) next(filePath, qualified string) string {
	base := types.UnitID(filePath, qualified)
	a.seen[base]++
	if n := a.seen[base]; n > 1 {
		return fmt.Sprintf("%s#%d", base, n)
	}
	return base
}

// preorder flattens units so that every parent precedes its children and
// siblings keep their order
func preorder(root *types.CodeUnit, byID map[string]*types.CodeUnit) []*types.CodeUnit {
	out := []*types.CodeUnit{root}
	for _, c := range root.Children {
		out = append(out, preorder(byID[c], byID)...)
	}
	return out
}
