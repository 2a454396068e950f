// Package launcher supervises local backend services during development.
//
// Launcher starts each configured service, streams its output, and watches
// for exit. When a service crashes it classifies the failure, runs system
// diagnostics, persists a crash report, applies a recovery action when the
// environment permits, and restarts with capped exponential backoff.
//
// Recovery outcomes feed learned policies: per (category, action) counters
// that let Suggest rank actions by observed success before falling back to
// category defaults.
package launcher
