package streaming

import "sync"

const defaultBatchSize = 32

// BufferedStream batches events and flushes them to a delegate function
// once the batch reaches its size, or on Close.
type BufferedStream struct {
	flush func([]Event)
	size  int

	mu     sync.Mutex
	buf    []Event
	closed bool
}

// NewBufferedStream creates a BufferedStream that hands full batches to
// flush. size <= 0 uses the default batch size.
func NewBufferedStream(size int, flush func([]Event)) *BufferedStream {
	if size <= 0 {
		size = defaultBatchSize
	}
	return &BufferedStream{
		flush: flush,
		size:  size,
		buf:   make([]Event, 0, size),
	}
}

// Emit appends the event to the current batch, flushing when full.
func (s *BufferedStream) Emit(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.buf = append(s.buf, event)
	if len(s.buf) >= s.size {
		s.flushLocked()
	}
	return nil
}

// Close flushes any pending events and marks the stream closed. Idempotent.
func (s *BufferedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.flushLocked()
	s.closed = true
	return nil
}

func (s *BufferedStream) flushLocked() {
	if len(s.buf) == 0 || s.flush == nil {
		return
	}
	batch := make([]Event, len(s.buf))
	copy(batch, s.buf)
	s.buf = s.buf[:0]
	s.flush(batch)
}
