// Package types provides shared type definitions for the ragdoc pipeline.
//
// This package defines the domain types passed between the parser, embedder,
// vector index, assembler and orchestrator: code units and their forest,
// embedding records, retrieval results, documentation fragments, processing
// jobs, and the error taxonomy.
//
// # Code Units
//
// CodeUnit represents one structural element of a source file. Identifiers
// are derived from the file path and qualified name:
//
//	unit := &types.CodeUnit{
//	    ID:     types.UnitID("pkg/server.go", "Server.Start"),
//	    Kind:   types.KindFunction,
//	    Name:   "Server.Start",
//	    Parent: "pkg/server.go::Server",
//	}
//
// # Two Relations
//
// Units take part in two separate relations. Parent and Children form the
// ownership forest, which is acyclic by construction and validated by
// Forest.Validate. References form a non-owning graph of calls and imports
// which may contain cycles (mutual recursion, import loops):
//
//	forest, err := types.NewForest(units, failures)
//	for _, level := range forest.Levels() {
//	    // every unit in level has all of its children in earlier levels
//	}
//
// # Errors
//
// Per-unit errors (ParseError, EmbeddingError, GenerationError) are
// recoverable and become placeholders. DimensionMismatchError signals an
// inconsistent provider configuration. PipelineError is the only error that
// fails a job; its UserMessage distinguishes the cause without exposing
// internal detail:
//
//	var perr *types.PipelineError
//	if errors.As(err, &perr) {
//	    job.Message = perr.UserMessage()
//	}
package types
