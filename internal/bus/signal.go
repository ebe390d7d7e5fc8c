package bus

import (
	"sync"
)

// Signal is a list of handlers called, in connection order, every time the signal is emitted.
type Signal[T any] struct {
	mu       sync.Mutex
	handlers []func(T)
}

// Connect registers a handler.
func (s *Signal[T]) Connect(fn func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = append(s.handlers, fn)
}

// Emit calls every connected handler with v.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	handlers := make([]func(T), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(v)
	}
}

// Disconnect removes all handlers.
func (s *Signal[T]) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers = nil
}
