package streaming

import (
	"sync"

	"github.com/constellate-io/constellate/pkg/schema"
)

const defaultChannelBuffer = 64

// ChannelStream is a queue-backed stream for pull-based consumption, e.g.
// by a server-push endpoint draining Events(). Emit is a non-blocking send:
// when the buffer is full the event is dropped rather than stalling the run.
type ChannelStream struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewChannelStream creates a ChannelStream with the given buffer size
// (<= 0 uses the default).
func NewChannelStream(buffer int) *ChannelStream {
	if buffer <= 0 {
		buffer = defaultChannelBuffer
	}
	return &ChannelStream{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the stream. The channel is closed by
// Close.
func (s *ChannelStream) Events() <-chan Event { return s.ch }

// Emit sends the event into the buffer, dropping it when full.
func (s *ChannelStream) Emit(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return schema.NewError(schema.ErrCodeConflict, "stream is closed")
	}
	select {
	case s.ch <- event:
	default:
		// backpressure: drop event for slow consumer
	}
	return nil
}

// Close closes the underlying channel. Safe to call more than once.
func (s *ChannelStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}
