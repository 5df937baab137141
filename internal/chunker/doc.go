// Package chunker prepares the embedding input of each code unit.
//
// A unit's input has two parts. The text is the unit itself: a kind and
// name header, the signature, the doc comment and the source. The context
// says where the unit lives: file, language, the chain of enclosing units
// and the module's imports. Embedders receive both.
//
// # Basic Usage
//
//	c := chunker.New()
//	chunk := c.Prepare(unit, forest, cfg.EmbedMaxTokens)
//	record, err := guard.Embed(ctx, unit.ID, chunk.Text, chunk.Context)
//
// # Token Budget
//
// Tokens are estimated as bytes/4. When text and context together exceed
// the budget the text is cut, at a line boundary when one is close, and
// "..." is appended. Truncated is set on the chunk so callers can log it.
package chunker
