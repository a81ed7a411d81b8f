// Package queue provides the blocking message queue that connects pipeline
// stages. Queues are unbounded FIFOs: Push never blocks and never drops,
// Pop blocks until a message is available. Backpressure is intentionally
// absent; a slow consumer grows its queue instead of stalling upstream.
package queue

import (
	"sync"
)

// Queue is a typed multi-producer/multi-consumer FIFO with blocking Pop.
// The zero value is not usable; create queues with New.
type Queue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []T
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v to the tail and wakes one waiting consumer.
// It never blocks and never fails.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until at least one message is queued, then removes and
// returns the head. Messages are returned strictly in arrival order.
func (q *Queue[T]) Pop() T {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		q.cond.Wait()
	}
	v := q.items[0]
	q.items[0] = *new(T) // release the reference
	q.items = q.items[1:]
	return v
}

// TryPop removes and returns the head without blocking. The second
// return value reports whether a message was available.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	v := q.items[0]
	q.items[0] = *new(T)
	q.items = q.items[1:]
	return v, true
}

// Len returns the current queue depth. Depth is the only observable
// backpressure signal in the pipeline.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
