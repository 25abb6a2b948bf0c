package streaming

import "sync"

// CallbackStream invokes a function for every emitted event.
type CallbackStream struct {
	fn     func(Event)
	mu     sync.Mutex
	closed bool
}

// NewCallbackStream creates a CallbackStream. A nil fn yields a stream that
// accepts and discards events.
func NewCallbackStream(fn func(Event)) *CallbackStream {
	return &CallbackStream{fn: fn}
}

// Emit invokes the callback with the event. Events after Close are dropped.
func (s *CallbackStream) Emit(event Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	fn := s.fn
	s.mu.Unlock()

	if fn != nil {
		fn(event)
	}
	return nil
}

// Close marks the stream closed. Idempotent.
func (s *CallbackStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
