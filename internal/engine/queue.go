package engine

import (
	"sync"

	"github.com/roach88/goldenpath/internal/record"
)

// queueItem is either a sealed event or a malformed-frame notice. Notices
// ride the same queue so the Run loop stays the single writer of run state.
type queueItem struct {
	event  record.EmittedEvent
	notice *malformedNotice
}

// malformedNotice flags a wire frame that was dropped before sealing.
type malformedNotice struct {
	runToken string
	detail   string
}

// eventQueue is a thread-safe FIFO queue for sealed events.
//
// The queue is unbounded so capture connections can burst without blocking
// the read loop; the validation engine drains it one event at a time.
//
// Thread-safety is provided for external enqueuing (capture connections,
// CLI emit) while the Engine's Run loop dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type eventQueue struct {
	mu     sync.Mutex
	items  []queueItem
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		items:  make([]queueItem, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(ev record.EmittedEvent) bool {
	return q.push(queueItem{event: ev})
}

// EnqueueNotice queues a malformed-frame notice for the Run loop.
func (q *eventQueue) EnqueueNotice(runToken, detail string) bool {
	return q.push(queueItem{notice: &malformedNotice{runToken: runToken, detail: detail}})
}

func (q *eventQueue) push(item queueItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (zero, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (queueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return queueItem{}, false
	}

	item := q.items[0]

	// Nil out the slot so the payload map is collectable before the
	// underlying array is reallocated.
	q.items[0] = queueItem{}

	if len(q.items) == 1 {
		// Last element - reset to empty slice with original capacity
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return item, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
