package handoff

import (
	"context"
	"sync"
	"sync/atomic"
)

// Stream is a cancellable sequence of interpretation chunks.
type Stream struct {
	chunks   chan string
	finished chan struct{}
	cancel   context.CancelFunc
	fellBack atomic.Bool

	mu  sync.Mutex
	err error
}

// Next returns the next chunk. It reports false once the stream has ended
// or ctx is done.
func (s *Stream) Next(ctx context.Context) (string, bool) {
	select {
	case chunk, ok := <-s.chunks:
		return chunk, ok
	case <-ctx.Done():
		return "", false
	}
}

// Err returns the provider error, if any. A stream that fell back still
// reports the error that caused it.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FellBack reports whether the deterministic fallback text was emitted.
func (s *Stream) FellBack() bool {
	return s.fellBack.Load()
}

// Close aborts the provider call if still running and waits for the stream
// goroutine to exit. It is safe to call more than once.
func (s *Stream) Close() {
	s.cancel()
	<-s.finished
}

func (s *Stream) emit(ctx context.Context, chunk string) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}
