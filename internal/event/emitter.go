// Package event provides a small typed publish/subscribe helper.
package event

import "sync"

// Emitter fans values of type E out to subscribers. The zero value is ready.
// Subscribers run synchronously on the emitting goroutine, in subscription order.
type Emitter[E any] struct {
	mu sync.RWMutex
	// +checklocks:mu
	subs []subscription[E]
	// +checklocks:mu
	next uint64
}

type subscription[E any] struct {
	id uint64
	fn func(E)
}

// Subscribe registers fn and returns a func that removes it.
// Cancelling twice is harmless.
func (e *Emitter[E]) Subscribe(fn func(E)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	id := e.next
	e.subs = append(e.subs, subscription[E]{id: id, fn: fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers ev to a snapshot of the current subscribers, so a
// subscriber may subscribe or cancel while being called.
func (e *Emitter[E]) Emit(ev E) {
	e.mu.RLock()
	subs := make([]subscription[E], len(e.subs))
	copy(subs, e.subs)
	e.mu.RUnlock()

	for _, s := range subs {
		s.fn(ev)
	}
}

// Len reports the number of live subscribers.
func (e *Emitter[E]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
