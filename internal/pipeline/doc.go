// Package pipeline drives one repository through the documentation
// stages and owns the job state machine.
//
//	parse      files → forest                    progress 0.00 → 0.10
//	embed      every unit, in parallel           0.10 → 0.50
//	assemble   by ascending height, per level    0.50 → 0.95
//	summarize  project summary                   → 1.0, completed
//
// A job stays pending while parsing. It fails directly from pending when
// no unit survives parsing or a collaborator is missing; otherwise it moves
// to processing and ends completed or failed. Per-unit embedding and
// generation failures become placeholder fragments and never fail a job.
//
// Cancellation is observed at unit boundaries: units already started run
// to completion (or their per-call timeout), no new unit starts, and the
// job fails with "processing cancelled".
//
// Every update is delivered to a Reporter callback in order. Progress never
// decreases.
package pipeline
