package types

import (
	"errors"
	"fmt"
)

// Domain errors for type validation
var (
	// Unit and forest errors
	ErrInvalidUnitID     = errors.New("invalid unit ID")
	ErrInvalidSpan       = errors.New("invalid source span")
	ErrModuleHasParent   = errors.New("module unit cannot have a parent")
	ErrOrphanUnit        = errors.New("non-module unit must have a parent")
	ErrDuplicateUnitID   = errors.New("duplicate unit ID")
	ErrBrokenContainment = errors.New("containment is not a forest")

	// Retrieval errors
	ErrInvalidMetric    = errors.New("distance metric must be cosine or euclidean")
	ErrTooManyNeighbors = errors.New("retrieval result longer than k")
	ErrSelfInRetrieval  = errors.New("retrieval result contains the query unit")
	ErrRetrievalOrder   = errors.New("retrieval result not ordered by distance then ID")

	// Documentation tree errors
	ErrMissingForest  = errors.New("documentation tree has no forest")
	ErrMissingSummary = errors.New("documentation tree has no project summary")
	ErrFragmentCount  = errors.New("fragment count does not match unit count")
	ErrBottomUpOrder  = errors.New("fragment generated before its children")
)

// ParseError reports a file that could not be syntactically analysed
type ParseError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("parse %s: %s", e.File, e.Message)
}

// DimensionMismatchError reports a vector whose length differs from the
// run's configured dimensionality
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// EmbeddingError reports a per-unit embedding failure
type EmbeddingError struct {
	UnitID string
	Err    error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.UnitID, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// GenerationError reports a per-unit text generation failure
type GenerationError struct {
	UnitID string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s: %v", e.UnitID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// PipelineReason classifies run-level failures
type PipelineReason string

const (
	ReasonNoUnits              PipelineReason = "no_units"
	ReasonEmbedderUnavailable  PipelineReason = "embedder_unavailable"
	ReasonGeneratorUnavailable PipelineReason = "generator_unavailable"
	ReasonInconsistent         PipelineReason = "inconsistent"
	ReasonCancelled            PipelineReason = "cancelled"
)

// PipelineError is the only error that drives a job to failed
type PipelineError struct {
	Reason PipelineReason
	Detail string
	Err    error
}

func (e *PipelineError) Error() string {
	msg := e.UserMessage()
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *PipelineError) Unwrap() error { return e.Err }

// UserMessage is the text shown in the job's message field.
// It never includes the wrapped internal error.
func (e *PipelineError) UserMessage() string {
	var base string
	switch e.Reason {
	case ReasonNoUnits:
		base = "no units were found: no files could be parsed"
	case ReasonEmbedderUnavailable:
		base = "embedding service unavailable"
	case ReasonGeneratorUnavailable:
		base = "generation service unreachable"
	case ReasonInconsistent:
		base = "internal inconsistency"
	case ReasonCancelled:
		base = "processing cancelled"
	default:
		base = "processing failed"
	}
	if e.Detail != "" {
		return base + " (" + e.Detail + ")"
	}
	return base
}

// NewPipelineError builds a PipelineError
func NewPipelineError(reason PipelineReason, detail string, err error) *PipelineError {
	return &PipelineError{Reason: reason, Detail: detail, Err: err}
}
