// Package harness runs declarative YAML scenarios against the validation
// engine.
//
// Each scenario describes a run: the contract to validate against, a fixed
// run token, a sequence of events to emit, and assertions over the resulting
// trace, detections, and final store state. Scenarios execute against a
// fresh in-memory database with a zeroed logical clock, so the same scenario
// always produces the same trace bytes. That determinism is what makes
// golden-file comparison of transcripts possible.
//
// Events go through the engine's synchronous Process path, not the queue, so
// every detection a step provoked is visible before the next step runs.
package harness
