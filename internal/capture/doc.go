// Package capture moves events between WebSocket backends and the engine.
// The Client dials a live backend and feeds frames to Engine.Ingest; the
// Simulator replays a recorded transcript to any client that connects. Both
// speak the same wire envelope, and the JSONL transcript codec is shared
// with the replay and emit commands.
package capture
