package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceTokens_Sequence(t *testing.T) {
	g := NewSequenceTokens("trace")

	assert.Equal(t, "trace-0001", g.Generate())
	assert.Equal(t, "trace-0002", g.Generate())

	g.Reset()
	assert.Equal(t, "trace-0001", g.Generate())
}

func TestSequenceTokens_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "loop-0001", NewSequenceTokens("").Generate())
}

func TestSequenceTokens_ThreadSafe(t *testing.T) {
	g := NewSequenceTokens("x")
	const n = 50

	var wg sync.WaitGroup
	seen := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- g.Generate()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[string]bool)
	for tok := range seen {
		unique[tok] = true
	}
	require.Len(t, unique, n)
}

func TestLogCapture(t *testing.T) {
	c := NewLogCapture()
	log := c.Logger()

	log.Warn("conflicting update dropped", "property", "x")
	log.Info("hello")
	log.Warn("conflicting update dropped", "property", "y")

	assert.Len(t, c.Lines(), 3)
	assert.Equal(t, 2, c.Count("conflicting update dropped"))
	assert.True(t, c.Contains("property=x"))
	assert.False(t, c.Contains("property=z"))
}
