package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dshills/ragdoc/pkg/types"
)

// Format names an output format
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

var (
	// ErrUnknownFormat is returned for an unsupported format name
	ErrUnknownFormat = errors.New("unknown export format")

	// ErrIncompleteTree is returned for a tree without forest or summary
	ErrIncompleteTree = errors.New("documentation tree is incomplete")
)

// ParseFormat accepts a format name or common alias ("md", "htm")
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Extension returns the file extension for the format
func (f Format) Extension() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatHTML:
		return ".html"
	default:
		return ".json"
	}
}

// Write renders tree in the given format
func Write(w io.Writer, tree *types.DocTree, format Format) error {
	switch format {
	case FormatJSON:
		return JSON(w, tree)
	case FormatMarkdown:
		return Markdown(w, tree)
	case FormatHTML:
		return HTML(w, tree)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Document is the JSON form of a documentation tree
type Document struct {
	RepositoryID string         `json:"repository_id"`
	JobID        string         `json:"job_id"`
	GeneratedAt  time.Time      `json:"generated_at"`
	Units        int            `json:"units"`
	Placeholders int            `json:"placeholders"`
	Failures     []FailedFile   `json:"failures,omitempty"`
	Root         *types.DocNode `json:"root"`
}

// FailedFile is a source file the parser skipped
type FailedFile struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// NewDocument builds the JSON form of tree
func NewDocument(tree *types.DocTree) (*Document, error) {
	if err := checkTree(tree); err != nil {
		return nil, err
	}
	doc := &Document{
		RepositoryID: tree.RepositoryID,
		JobID:        tree.JobID,
		GeneratedAt:  tree.Summary.GeneratedAt,
		Units:        tree.Forest.Len(),
		Placeholders: tree.PlaceholderCount(),
		Root:         tree.Root(),
	}
	for _, f := range tree.Forest.Failures {
		ff := FailedFile{Path: f.Path}
		if f.Err != nil {
			ff.Error = f.Err.Error()
		}
		doc.Failures = append(doc.Failures, ff)
	}
	return doc, nil
}

// JSON writes the tree as indented JSON rooted at the project node
func JSON(w io.Writer, tree *types.DocTree) error {
	doc, err := NewDocument(tree)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode documentation: %w", err)
	}
	return nil
}

func checkTree(tree *types.DocTree) error {
	if tree == nil || tree.Forest == nil || tree.Summary == nil {
		return ErrIncompleteTree
	}
	return nil
}
