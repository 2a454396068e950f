// Package testutil provides deterministic helpers for tests.
//
// The engine's logical clock is already deterministic under synchronous
// processing; what tests control through this package are the two remaining
// sources of nondeterminism: wall-clock time (launcher records) and
// run-token generation (capture).
package testutil

import (
	"sync"
	"time"
)

// ManualClock is a controllable wall clock for launcher and policy tests.
//
// Crash reports, recovery attempts, and learned policies carry real
// timestamps. Tests inject a ManualClock so those timestamps are fixed
// instead of flowing from time.Now.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock pinned to the given instant.
// The instant is normalized to UTC, matching how the store persists time.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now.UTC()}
}

// Now returns the current pinned instant.
// Implements the clock function signature the launcher accepts.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
// Panics on negative durations: a wall clock that moves backwards would
// produce negative uptimes in crash reports.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	if d < 0 {
		panic("testutil: ManualClock cannot move backwards")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
