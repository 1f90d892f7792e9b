package testutil

import (
	"fmt"
	"sync"
)

// SequenceTokens generates loop tokens "<prefix>-0001", "<prefix>-0002", ...
//
// Runs of the same scenario with a fresh SequenceTokens produce identical
// tokens, which keeps journals and golden traces byte-stable.
//
// Thread-safety: all methods are safe for concurrent use.
type SequenceTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceTokens creates a generator. An empty prefix becomes "loop".
func NewSequenceTokens(prefix string) *SequenceTokens {
	if prefix == "" {
		prefix = "loop"
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

// Reset restarts the sequence.
func (g *SequenceTokens) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
