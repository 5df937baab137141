// Package assembler produces the documentation fragment of each unit.
//
// Leaf units are documented from their own source, span and references
// plus the top-K retrieved peers. Composite units (modules, classes and
// functions with nested definitions) additionally receive their direct
// children's fragments in source order, which requires those fragments to
// exist: callers assemble by ascending height, as Forest.Levels returns
// them.
//
// Failures never cascade. A unit without an embedding, or whose generation
// fails or times out, gets a placeholder fragment:
//
//	documentation unavailable: generation failed
//
// and its parent aggregates the placeholder like any other child.
package assembler
