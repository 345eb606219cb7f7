package engine

import (
	"sync"

	"github.com/roach88/xchange/internal/channel"
)

// deliveryQueue is a thread-safe FIFO of inbound deliveries.
//
// Transports enqueue from any goroutine while Run dequeues. The signal
// channel lets Run wait with context awareness.
type deliveryQueue struct {
	mu     sync.Mutex
	items  []channel.Delivery
	closed bool
	signal chan struct{} // buffered, size 1
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{
		items:  make([]channel.Delivery, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds d to the back of the queue. Returns false once closed.
func (q *deliveryQueue) Enqueue(d channel.Delivery) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, d)

	// Non-blocking: the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front delivery without blocking.
func (q *deliveryQueue) TryDequeue() (channel.Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return channel.Delivery{}, false
	}
	d := q.items[0]

	// CRITICAL: clear the slot so the payload can be collected.
	q.items[0] = channel.Delivery{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return d, true
}

// Wait returns a channel that signals when deliveries may be available. It
// is closed when the queue closes.
func (q *deliveryQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *deliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether Close has been called.
func (q *deliveryQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops further enqueues and wakes waiters.
func (q *deliveryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
