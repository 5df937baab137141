package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dshills/ragdoc/pkg/types"
)

const (
	// MaxTokensPerChunk is the default token budget for one embedding input
	MaxTokensPerChunk = 2000

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4

	truncationMarker = "\n..."
)

// Chunk is the embedding input prepared for one code unit
type Chunk struct {
	UnitID string

	// Text is the unit's own content: header, signature, doc comment, code
	Text string

	// Context locates the unit: module path, enclosing units, imports
	Context string

	TokenCount int
	Truncated  bool
}

// Chunker turns code units into embedding inputs
type Chunker struct{}

// New creates a new Chunker instance
func New() *Chunker {
	return &Chunker{}
}

// Prepare builds the embedding text and structural context of unit.
// The combined size is kept within maxTokens by truncating the text;
// the context is cut only when it alone exceeds the budget.
func (c *Chunker) Prepare(unit *types.CodeUnit, forest *types.Forest, maxTokens int) Chunk {
	if maxTokens <= 0 {
		maxTokens = MaxTokensPerChunk
	}

	context := c.buildContext(unit, forest)
	text := c.buildText(unit)

	budget := maxTokens * TokensPerChar
	truncated := false
	if len(context) > budget/2 && len(context)+len(text) > budget {
		context = truncate(context, budget/2)
		truncated = true
	}
	if len(context)+len(text) > budget {
		text = truncate(text, budget-len(context))
		truncated = true
	}

	return Chunk{
		UnitID:     unit.ID,
		Text:       text,
		Context:    context,
		TokenCount: EstimateTokenCount(text) + EstimateTokenCount(context),
		Truncated:  truncated,
	}
}

// buildText renders the unit itself
func (c *Chunker) buildText(unit *types.CodeUnit) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s %s\n", unit.Kind, unit.Name))
	if unit.Signature != "" {
		b.WriteString(unit.Signature)
		b.WriteString("\n")
	}
	if unit.DocComment != "" {
		b.WriteString(unit.DocComment)
		b.WriteString("\n")
	}
	if src := strings.TrimSpace(unit.Source); src != "" {
		b.WriteString("\n")
		b.WriteString(src)
	}

	return strings.TrimRight(b.String(), "\n")
}

// buildContext renders where the unit lives: its module, its enclosing
// units nearest last, and the module's imports
func (c *Chunker) buildContext(unit *types.CodeUnit, forest *types.Forest) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("file: %s\n", unit.Path))
	if unit.Language != "" {
		b.WriteString(fmt.Sprintf("language: %s\n", unit.Language))
	}

	if forest == nil {
		return strings.TrimRight(b.String(), "\n")
	}

	ancestors := forest.Ancestors(unit.ID)
	if len(ancestors) > 0 {
		chain := make([]string, 0, len(ancestors))
		for i := len(ancestors) - 1; i >= 0; i-- {
			a, ok := forest.Get(ancestors[i])
			if !ok {
				continue
			}
			if a.Signature != "" {
				chain = append(chain, a.Signature)
			} else {
				chain = append(chain, fmt.Sprintf("%s %s", a.Kind, a.Name))
			}
		}
		b.WriteString("within: ")
		b.WriteString(strings.Join(chain, " > "))
		b.WriteString("\n")
	}

	module := unit
	if len(ancestors) > 0 {
		if m, ok := forest.Get(ancestors[len(ancestors)-1]); ok {
			module = m
		}
	}
	if len(module.Imports) > 0 {
		b.WriteString("imports: ")
		b.WriteString(strings.Join(module.Imports, ", "))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// truncate cuts s to at most limit bytes, preferring a line boundary in
// the last quarter and never splitting a UTF-8 sequence
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	limit -= len(truncationMarker)
	if limit <= 0 {
		return ""
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if nl := strings.LastIndexByte(s[:cut], '\n'); nl > limit*3/4 {
		cut = nl
	}
	return s[:cut] + truncationMarker
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}
