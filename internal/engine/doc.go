// Package engine implements the goldenpath validation engine.
//
// The engine is the heart of goldenpath - it receives emitted events from
// capture, the simulator, the harness, or the CLI, runs them through the
// detector pipeline against the active contract, and persists both the
// events and any detections.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// The engine processes all events in a single goroutine for deterministic
// behavior. This ensures:
// - Predictable detector evaluation order
// - Reproducible detection log on replay
// - Simple reasoning about which event caused which detection
//
// Event Processing Flow:
//  1. Envelopes are sealed (seq stamped, content-addressed ID computed) at
//     ingest and enqueued to a FIFO queue
//  2. Engine.Run() dequeues events one at a time
//  3. Process() runs the per-event pipeline: runaway quota, persist,
//     detectors in declaration order, detection writes, run bookkeeping
//  4. The harness calls Process() directly for synchronous execution
//
// The engine is designed for correctness and determinism, not throughput.
// Capture connections may be concurrent, but the core validation loop is
// strictly single-threaded.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// All events stamped with monotonic seq counter from Clock.Next().
// NEVER use wall-clock timestamps for ordering.
//
// Deterministic Detection:
// Detectors run in fixed order (schema, sequence, pairing, loop,
// authenticity). Per-run state is folded from the store on resume, so a
// restarted engine reaches the same conclusions as one that never stopped.
package engine
