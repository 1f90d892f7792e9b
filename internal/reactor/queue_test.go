package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnQueue_FIFO(t *testing.T) {
	q := newTurnQueue()

	for _, emitter := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(&turn{batch: newBatch(emitter)}))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		got, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, got.batch.emitter)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "dequeue from empty queue should return false")
}

func TestTurnQueue_WaitSignals(t *testing.T) {
	q := newTurnQueue()

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue(&turn{batch: newBatch("late")})
	}()

	select {
	case <-q.Wait():
		assert.Equal(t, 1, q.Len())
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for signal")
	}
}

func TestTurnQueue_Close(t *testing.T) {
	q := newTurnQueue()
	q.Enqueue(&turn{batch: newBatch("x")})

	q.Close()
	q.Close() // idempotent

	assert.False(t, q.Enqueue(&turn{batch: newBatch("y")}), "enqueue after close should fail")
	assert.Equal(t, 0, q.Len())

	drained := make(chan struct{})
	go func() {
		for range q.Wait() {
		}
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(time.Second):
		t.Fatal("signal channel should be closed")
	}
}
