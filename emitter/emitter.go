// Package emitter provides a small typed in-process event dispatcher.
// Each logical named event is represented by a dedicated Emitter instance,
// keeping listener signatures fully typed. Listener registration and removal
// are safe to perform concurrently with emission; a listener removed while an
// emission is in flight is skipped.
package emitter

import (
	"sync"
	"sync/atomic"
)

// Listener receives emitted values.
type Listener[T any] func(T)

// Subscription is a handle to a registered listener. Off detaches it.
type Subscription[T any] struct {
	emitter *Emitter[T]
	fn      Listener[T]
	active  atomic.Bool
}

// Off removes the listener. It is safe to call multiple times and safe to
// call from inside a listener during emission.
func (s *Subscription[T]) Off() {
	if !s.active.CompareAndSwap(true, false) {
		return
	}
	s.emitter.remove(s)
}

// Emitter dispatches values to an ordered list of listeners.
// The zero value is not usable; construct with New.
type Emitter[T any] struct {
	mu   sync.Mutex
	subs []*Subscription[T]
}

// New constructs an empty emitter.
func New[T any]() *Emitter[T] {
	return &Emitter[T]{}
}

// On registers a listener. Listeners are invoked in registration order.
func (e *Emitter[T]) On(fn Listener[T]) *Subscription[T] {
	s := &Subscription[T]{emitter: e, fn: fn}
	s.active.Store(true)
	e.mu.Lock()
	e.subs = append(e.subs, s)
	e.mu.Unlock()
	return s
}

// Emit delivers v to every active listener in registration order. Listeners
// removed after the snapshot is taken but before delivery are skipped.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]*Subscription[T], len(e.subs))
	copy(snapshot, e.subs)
	e.mu.Unlock()

	for _, s := range snapshot {
		if s.active.Load() {
			s.fn(v)
		}
	}
}

// Len reports the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

func (e *Emitter[T]) remove(target *Subscription[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, s := range e.subs {
		if s == target {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}
