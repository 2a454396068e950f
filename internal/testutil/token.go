package testutil

import (
	"fmt"
	"sync"
)

// FixedTokenGenerator returns the same run token every time.
//
// The harness and capture tests use it so every event in a scenario lands on
// one known run, making traces and golden snapshots byte-identical across
// runs. Production code uses the engine's UUIDv7 generator instead.
type FixedTokenGenerator struct {
	token string
}

// NewFixedTokenGenerator creates a generator pinned to token.
// An empty token falls back to "test-run-default" so scenarios that omit
// run_token still produce stable golden files.
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-run-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed run token.
// Implements engine.RunTokenGenerator.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}

// SequenceTokenGenerator returns "prefix-1", "prefix-2", ... in order.
//
// Capture tests that open several connections use it to get distinct but
// predictable run tokens per connection.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceTokenGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceTokenGenerator creates a sequence generator with the given
// prefix. An empty prefix defaults to "test-run".
func NewSequenceTokenGenerator(prefix string) *SequenceTokenGenerator {
	if prefix == "" {
		prefix = "test-run"
	}
	return &SequenceTokenGenerator{prefix: prefix}
}

// Generate returns the next token in the sequence.
// Implements engine.RunTokenGenerator.
func (g *SequenceTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
