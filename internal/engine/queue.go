package engine

import (
	"sync"

	"github.com/Rebalancy/agent-contracts/internal/signer"
)

// completion is a signer outcome waiting to be applied.
type completion struct {
	RequestID string
	Response  signer.Response
	Err       error
}

// completionQueue is a thread-safe FIFO of signer outcomes.
//
// Signer goroutines enqueue; the engine's Run loop dequeues. The queue uses
// a channel for signaling to enable context-aware waiting in the Run loop.
type completionQueue struct {
	mu     sync.Mutex
	items  []completion
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newCompletionQueue() *completionQueue {
	return &completionQueue{
		items:  make([]completion, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds c to the back of the queue.
// Returns false if the queue is closed.
func (q *completionQueue) Enqueue(c completion) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, c)

	// Non-blocking: buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front item without blocking.
func (q *completionQueue) TryDequeue() (completion, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return completion{}, false
	}

	c := q.items[0]
	q.items[0] = completion{} // release response strings for GC

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return c, true
}

// Wait returns a channel that signals when items may be available. The
// channel is closed by Close.
func (q *completionQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *completionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *completionQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting items and wakes any waiters.
func (q *completionQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
