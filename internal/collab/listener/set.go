// Package listener provides typed callback sets with unsubscribe tokens.
package listener

import "sync"

// ID identifies one registration; it is never reused within a Set.
type ID uint64

type entry[T any] struct {
	id ID
	fn func(T)
}

// Set is safe for concurrent use. Callbacks run outside the lock in
// registration order, so a callback may add or remove listeners.
type Set[T any] struct {
	mu      sync.RWMutex
	next    ID
	entries []entry[T]
}

func (s *Set[T]) Add(fn func(T)) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.entries = append(s.entries, entry[T]{id: s.next, fn: fn})
	return s.next
}

// Remove unregisters id and reports whether it was present.
func (s *Set[T]) Remove(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Set[T]) Notify(v T) {
	s.mu.RLock()
	fns := make([]func(T), len(s.entries))
	for i, e := range s.entries {
		fns[i] = e.fn
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (s *Set[T]) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

func (s *Set[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
