// Package store provides SQLite-backed durable storage for run logs,
// detections, contracts, and launcher forensics.
//
// The store implements an append-only log with:
//   - Events: observed agent events, content-addressed
//   - Detections: detector findings, content-addressed
//   - Evidence Edges: citation links (detection → events, in order)
//   - Runs: derived per-run bookkeeping, upserted in place
//   - Contracts: compiled contracts keyed by canonical hash
//   - Crash Reports / Recovery Attempts / Recovery Policies: launcher side
//
// Invariants the schema and queries enforce together:
//
// Idempotent ingestion
//   - Event and detection ids are content-addressed (internal/record/hash.go)
//   - INSERT ... ON CONFLICT(id) DO NOTHING makes re-ingestion a no-op
//
// Logical time
//   - All engine-side ordering uses seq INTEGER (logical clock), NEVER
//     timestamps; replay is deterministic regardless of wall time
//   - Only launcher tables carry RFC 3339 timestamps, because crash
//     forensics are about real time
//
// Deterministic query results
//   - All engine-side queries order by: seq ASC, id ASC COLLATE BINARY
//   - Ensures identical results across replays
//
// Atomic evidence
//   - A detection and its evidence edges commit in one transaction, so a
//     finding is never visible without the events it cites
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// All content-addressed IDs are computed via functions in
// internal/record/hash.go using RFC 8785 canonical JSON and SHA-256 with
// domain separation.
package store
