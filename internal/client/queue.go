package client

import (
	"sync"
	"sync/atomic"

	"github.com/tmykhalevych/event-tracer/pkg/callback"
	"github.com/tmykhalevych/event-tracer/pkg/registry"
)

// delivery is one filled registry travelling from the tracer to the
// draining goroutine.
type delivery struct {
	registry *registry.Registry
	done     callback.Thunk
}

// batchQueue is the bounded channel between the tracing context and the
// consumer. Both ends never block.
type batchQueue struct {
	mu      sync.RWMutex
	channel chan delivery
	closed  atomic.Bool
	sent    atomic.Int64
	failed  atomic.Int64
}

func newBatchQueue(size int) *batchQueue {
	return &batchQueue{channel: make(chan delivery, size)}
}

// trySend returns false when the queue is full or closed.
func (q *batchQueue) trySend(d delivery) bool {
	if q.closed.Load() {
		q.failed.Add(1)
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	// Double-check closed status while holding lock
	if q.closed.Load() || q.channel == nil {
		q.failed.Add(1)
		return false
	}

	select {
	case q.channel <- d:
		q.sent.Add(1)
		return true
	default:
		q.failed.Add(1)
		return false
	}
}

// tryReceive returns false when nothing is queued.
func (q *batchQueue) tryReceive() (delivery, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.channel == nil {
		return delivery{}, false
	}

	select {
	case d, ok := <-q.channel:
		return d, ok
	default:
		return delivery{}, false
	}
}

// close drops the channel. Deliveries still queued are lost, so the
// caller drains first.
func (q *batchQueue) close() {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.channel != nil {
		close(q.channel)
		q.channel = nil
	}
}

func (q *batchQueue) len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.channel)
}

// utilization returns the share of the queue capacity in use, in percent.
func (q *batchQueue) utilization() float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.channel == nil || cap(q.channel) == 0 {
		return 0
	}
	return float64(len(q.channel)) / float64(cap(q.channel)) * 100
}
