package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/ragdoc/pkg/types"
)

// Provider names
const (
	ProviderTemplate = "template"
	ProviderClaude   = "claude"
	ProviderGemini   = "gemini"
	ProviderOpenAI   = "openai"
)

var (
	// ErrEmptyResponse is returned when a model answers with no text
	ErrEmptyResponse = errors.New("no response generated")

	// ErrUnsupportedProvider is returned by New for an unknown provider
	ErrUnsupportedProvider = errors.New("unsupported generation provider")

	// ErrMissingAPIKey is returned when a remote provider has no key
	ErrMissingAPIKey = errors.New("api key not set")
)

// Generator turns a generation input into documentation text
type Generator interface {
	Generate(ctx context.Context, in Input) (string, error)
	Name() string
}

// ContextItem is one retrieved peer, closest first
type ContextItem struct {
	UnitID   string  `json:"unit_id"`
	Distance float64 `json:"distance"`

	// Excerpt is the peer's fragment when already documented, else its
	// raw source
	Excerpt    string `json:"excerpt"`
	Documented bool   `json:"documented"`
}

// ChildSummary is the fragment of one direct child, in source order
type ChildSummary struct {
	UnitID      string         `json:"unit_id"`
	Kind        types.UnitKind `json:"kind"`
	Name        string         `json:"name"`
	Text        string         `json:"text"`
	Placeholder bool           `json:"placeholder,omitempty"`
}

// Input is everything the generator sees for one unit
type Input struct {
	UnitID     string         `json:"unit_id"`
	Kind       types.UnitKind `json:"kind"`
	Name       string         `json:"name"`
	Path       string         `json:"path"`
	Language   types.Language `json:"language,omitempty"`
	Signature  string         `json:"signature,omitempty"`
	DocComment string         `json:"doc_comment,omitempty"`
	Source     string         `json:"source,omitempty"`
	Span       types.Span     `json:"span"`
	References []string       `json:"references,omitempty"`

	// Context holds the retrieved peers
	Context []ContextItem `json:"context,omitempty"`

	// Children is set for composite units only
	Children []ChildSummary `json:"children,omitempty"`

	// Project marks the repository-level summary
	Project bool `json:"project,omitempty"`
}

// Composite reports whether the input aggregates child fragments
func (in Input) Composite() bool {
	return in.Project || in.Kind == types.KindModule || in.Kind == types.KindClass
}

const systemPrompt = "You write concise reference documentation for source code. " +
	"Describe what the unit does and how it relates to the units listed as context. " +
	"Answer with plain prose, no headings, at most one short paragraph."

// Prompt renders the input as a single user prompt
func (in Input) Prompt() string {
	var b strings.Builder

	switch {
	case in.Project:
		b.WriteString(fmt.Sprintf("Summarize the repository %q from the documentation of its modules.\n\n", in.Name))
	case in.Composite():
		b.WriteString(fmt.Sprintf("Document the %s %s in %s from the documentation of its members.\n\n", in.Kind, in.Name, in.Path))
	default:
		b.WriteString(fmt.Sprintf("Document the %s %s in %s (lines %d-%d).\n\n",
			in.Kind, in.Name, in.Path, in.Span.StartLine, in.Span.EndLine))
	}

	if in.Signature != "" {
		b.WriteString("Signature:\n")
		b.WriteString(in.Signature)
		b.WriteString("\n\n")
	}
	if in.DocComment != "" {
		b.WriteString("Existing comment:\n")
		b.WriteString(in.DocComment)
		b.WriteString("\n\n")
	}

	if len(in.Children) > 0 {
		b.WriteString("Members:\n")
		for _, c := range in.Children {
			b.WriteString(fmt.Sprintf("- %s %s: %s\n", c.Kind, c.Name, c.Text))
		}
		b.WriteString("\n")
	} else if in.Source != "" {
		b.WriteString("Source:\n```\n")
		b.WriteString(in.Source)
		b.WriteString("\n```\n\n")
	}

	if len(in.References) > 0 {
		b.WriteString("References: ")
		b.WriteString(strings.Join(in.References, ", "))
		b.WriteString("\n\n")
	}

	if len(in.Context) > 0 {
		b.WriteString("Related units, closest first:\n")
		for _, c := range in.Context {
			state := "source"
			if c.Documented {
				state = "documentation"
			}
			b.WriteString(fmt.Sprintf("- %s (%s): %s\n", c.UnitID, state, c.Excerpt))
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
