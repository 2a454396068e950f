// Package record defines the canonical record types for goldenpath.
//
// This package contains type definitions and hashing only. All other
// internal packages import record; record imports nothing internal. This
// keeps it the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere in payloads - use int64 for numbers
//   - Event ordering uses logical clocks (seq) only, never wall-clock
//     timestamps; wall clock appears only on launcher-side records
//     (CrashReport) which are never replayed
//   - Event and Detection IDs are content-addressed via RFC 8785 canonical
//     JSON and domain-separated SHA-256
//   - All JSON tags use snake_case
package record
