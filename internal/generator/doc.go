// Package generator turns an assembled unit description into documentation
// text.
//
// A Generator receives an Input: the unit's own signature, comment and
// source (or, for composites, its children's fragments in source order)
// plus the retrieved peers, closest first. Providers:
//
//	template  deterministic, no network; the default
//	claude    Anthropic Messages API
//	gemini    Gemini API through google.golang.org/genai
//	openai    OpenAI or any compatible server through langchaingo
//
// Generators are stateless with respect to the pipeline. Errors are
// returned as-is; the assembler turns them into placeholder fragments.
package generator
