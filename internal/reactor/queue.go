package reactor

import "sync"

// turn is one unit of top-level work: a batch to propagate, optionally
// preceded by the settlement of a completed service call.
type turn struct {
	batch  *batch
	settle *completion
}

// turnQueue is a thread-safe FIFO of turns.
//
// The queue is unbounded so that service completions and external writes
// never block their callers. The signal channel (buffered, size 1) lets the
// Run loop and Settle wait in a context-aware select.
type turnQueue struct {
	mu     sync.Mutex
	turns  []*turn
	closed bool
	signal chan struct{}
}

func newTurnQueue() *turnQueue {
	return &turnQueue{
		turns:  make([]*turn, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a turn to the back of the queue.
// Returns false if the queue is closed.
func (q *turnQueue) Enqueue(t *turn) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.turns = append(q.turns, t)
	q.notifyLocked()
	return true
}

// Notify wakes a waiter without enqueuing anything.
func (q *turnQueue) Notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.notifyLocked()
	}
}

func (q *turnQueue) notifyLocked() {
	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue removes and returns the front turn without blocking.
func (q *turnQueue) TryDequeue() (*turn, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.turns) == 0 {
		return nil, false
	}
	t := q.turns[0]
	q.turns[0] = nil // release for GC
	if len(q.turns) == 1 {
		q.turns = q.turns[:0]
	} else {
		q.turns = q.turns[1:]
	}
	return t, true
}

// Wait returns a channel that signals when turns may be available.
func (q *turnQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued turns.
func (q *turnQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.turns)
}

// Close stops accepting turns and wakes all waiters.
func (q *turnQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.turns = nil
	close(q.signal)
}
