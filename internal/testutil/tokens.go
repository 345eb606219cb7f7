package testutil

import (
	"fmt"
	"sync"
)

// SequenceTokens generates "<prefix>-0001", "<prefix>-0002", ...
//
// Implements engine.TokenGenerator. The same scenario run twice yields the
// same tokens, which keeps logs and event dumps comparable.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceTokens creates a generator. An empty prefix uses "trace".
func NewSequenceTokens(prefix string) *SequenceTokens {
	if prefix == "" {
		prefix = "trace"
	}
	return &SequenceTokens{prefix: prefix}
}

// Generate returns the next token.
func (g *SequenceTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Reset restarts numbering at 1.
func (g *SequenceTokens) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
