package capture

import (
	"sync"
)

// Slot is a single-value mailbox with overwrite semantics: Publish replaces
// an unconsumed value and counts it as dropped, Take empties the slot.
type Slot[T any] struct {
	mu        sync.Mutex
	value     T
	full      bool
	published uint64
	drops     uint64
	closed    bool
}

// Publish stores v, replacing any unconsumed value. It is a no-op after Close.
func (s *Slot[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.full {
		s.drops++
	}
	s.value = v
	s.full = true
	s.published++
}

// Take returns the pending value and empties the slot. ok is false when
// nothing new was published since the last Take.
func (s *Slot[T]) Take() (v T, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.full {
		return v, false
	}
	v = s.value
	var zero T
	s.value = zero
	s.full = false
	return v, true
}

// Close rejects further publishes.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Stats returns the number of published and overwritten values.
func (s *Slot[T]) Stats() (published, drops uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published, s.drops
}
