package streaming

// NoopStream discards every event. Used for batch and test execution.
type NoopStream struct{}

// NewNoopStream creates a NoopStream.
func NewNoopStream() *NoopStream { return &NoopStream{} }

// Emit discards the event.
func (NoopStream) Emit(Event) error { return nil }

// Close is a no-op.
func (NoopStream) Close() error { return nil }
