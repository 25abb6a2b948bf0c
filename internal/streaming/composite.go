package streaming

import "sync"

// CompositeStream fans out every event to N child streams concurrently.
// Individual child failures are ignored so one slow or broken sink never
// disturbs the others.
type CompositeStream struct {
	children []Stream
}

// NewCompositeStream creates a fan-out stream over the given children.
func NewCompositeStream(children ...Stream) *CompositeStream {
	return &CompositeStream{children: children}
}

// Emit delivers the event to every child concurrently and waits for all.
func (s *CompositeStream) Emit(event Event) error {
	var wg sync.WaitGroup
	for _, child := range s.children {
		wg.Add(1)
		go func(c Stream) {
			defer wg.Done()
			_ = c.Emit(event) // child failures are intentionally ignored
		}(child)
	}
	wg.Wait()
	return nil
}

// Close closes every child, ignoring individual failures. Idempotent
// because each child's Close is.
func (s *CompositeStream) Close() error {
	for _, child := range s.children {
		_ = child.Close()
	}
	return nil
}
