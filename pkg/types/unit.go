package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// UnitKind represents the structural level of a code unit
type UnitKind string

const (
	KindModule   UnitKind = "module"
	KindClass    UnitKind = "class"
	KindFunction UnitKind = "function"

	// KindUnparseable marks the module stub of a file that failed to parse.
	// Stubs never enter a Forest.
	KindUnparseable UnitKind = "unparseable"
)

// Language identifies the source language of a file
type Language string

const (
	LangGo     Language = "go"
	LangPython Language = "python"
)

// IDSeparator separates the file path from the qualified name in unit IDs
const IDSeparator = "::"

// SourceFile is one (path, text) pair supplied by the repository materializer
type SourceFile struct {
	Path string
	Text string
}

// Span locates a unit inside its file.
// Lines are 1-based and inclusive, byte offsets are 0-based and end-exclusive.
type Span struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
	StartByte int `json:"start_byte"`
	EndByte   int `json:"end_byte"`
}

// CodeUnit is one parsed structural element: a module, class or function
type CodeUnit struct {
	// Identification
	ID       string   `json:"id"`
	Kind     UnitKind `json:"kind"`
	Name     string   `json:"name"` // qualified name, e.g. "Server.Start"
	Path     string   `json:"path"`
	Language Language `json:"language"`

	// Content
	Signature  string   `json:"signature,omitempty"`
	DocComment string   `json:"doc_comment,omitempty"`
	Roles      []string `json:"roles,omitempty"` // naming-convention roles, e.g. "repository"
	Source     string   `json:"-"`
	Span       Span     `json:"span"`

	// Ownership forest
	Parent   string   `json:"parent,omitempty"`
	Children []string `json:"children,omitempty"`

	// Reference graph. References holds resolved unit IDs only;
	// Imports keeps the raw import paths of a module.
	References []string `json:"references,omitempty"`
	Imports    []string `json:"imports,omitempty"`
}

// UnitID builds the stable identifier for a unit.
// Modules are identified by their path alone.
func UnitID(path, qualifiedName string) string {
	if qualifiedName == "" {
		return path
	}
	return path + IDSeparator + qualifiedName
}

// IsRoot reports whether the unit has no parent
func (u *CodeUnit) IsRoot() bool {
	return u.Parent == ""
}

// IsLeaf reports whether the unit has no children
func (u *CodeUnit) IsLeaf() bool {
	return len(u.Children) == 0
}

// ContentHash returns the SHA-256 of the unit's kind and source text.
// Two units with equal hashes are trivial duplicates of each other.
func (u *CodeUnit) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(u.Kind))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(u.Source)))
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateKind checks if the unit kind is valid inside a forest
func (u *CodeUnit) ValidateKind() error {
	switch u.Kind {
	case KindModule, KindClass, KindFunction:
		return nil
	default:
		return errors.New("invalid unit kind")
	}
}

// Validate checks the unit's own fields
func (u *CodeUnit) Validate() error {
	if u.ID == "" {
		return ErrInvalidUnitID
	}
	if err := u.ValidateKind(); err != nil {
		return err
	}
	if u.Kind == KindModule && u.Parent != "" {
		return ErrModuleHasParent
	}
	if u.Kind != KindModule && u.Parent == "" {
		return ErrOrphanUnit
	}
	if u.Span.StartLine < 1 || u.Span.EndLine < u.Span.StartLine {
		return ErrInvalidSpan
	}
	if u.Span.StartByte < 0 || u.Span.EndByte < u.Span.StartByte {
		return ErrInvalidSpan
	}
	return nil
}
