// Package queue implements the ordered work queue feeding sequential
// pipelines: FIFO delivery, head insertion for items that must jump the
// queue, and an atomic flush that discards pending work and wakes a blocked
// consumer with a sentinel error.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrFlushed is returned by Get when the queue was flushed while the caller
// was waiting. It signals "no item" rather than a failure.
var ErrFlushed = errors.New("queue: flushed")

type result[T any] struct {
	item T
	err  error
}

// Queue is an ordered work queue. Multiple producers may call Put and
// PutFront concurrently; one logical consumer calls Get in a loop.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	waiters []chan result[T]
}

// Options configures a Queue.
type Options struct {
	// CapacityHint pre-sizes the item buffer for the expected backlog.
	CapacityHint int
}

// New constructs an empty queue.
func New[T any](optFns ...func(o *Options)) *Queue[T] {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	q := &Queue[T]{}
	if opts.CapacityHint > 0 {
		q.items = make([]T, 0, opts.CapacityHint)
	}
	return q
}

// Put appends an item to the tail.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliverLocked(item) {
		return
	}
	q.items = append(q.items, item)
}

// PutFront inserts an item at the head so it is returned before anything
// already queued.
func (q *Queue[T]) PutFront(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliverLocked(item) {
		return
	}
	q.items = append([]T{item}, q.items...)
}

// Get removes and returns the head item, blocking until one is available.
// It returns ErrFlushed if the queue is flushed while waiting, or ctx.Err()
// if the context is cancelled first.
func (q *Queue[T]) Get(ctx context.Context) (T, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return item, nil
	}

	ch := make(chan result[T], 1)
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case r := <-ch:
		return r.item, r.err
	case <-ctx.Done():
		q.abandon(ch)
		var zero T
		return zero, ctx.Err()
	}
}

// Flush atomically discards all pending items and wakes every blocked Get
// with ErrFlushed.
func (q *Queue[T]) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	var zero T
	for _, ch := range q.waiters {
		ch <- result[T]{item: zero, err: ErrFlushed}
	}
	q.waiters = nil
}

// Len reports the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// deliverLocked hands an item directly to the oldest waiter, if any.
func (q *Queue[T]) deliverLocked(item T) bool {
	if len(q.waiters) == 0 {
		return false
	}
	ch := q.waiters[0]
	q.waiters = q.waiters[1:]
	ch <- result[T]{item: item}
	return true
}

// abandon deregisters a waiter after context cancellation. If an item was
// already handed to the waiter it is requeued at the head so it is not lost.
func (q *Queue[T]) abandon(ch chan result[T]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
	select {
	case r := <-ch:
		if r.err == nil {
			q.items = append([]T{r.item}, q.items...)
		}
	default:
	}
}
