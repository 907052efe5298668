package audit

import (
	"container/ring"
	"context"
	"sync"
	"time"
)

// InMemorySink keeps the last N events in a fixed-size ring buffer.
// This is the default sink when DATABASE_URL is not configured.
type InMemorySink struct {
	mu sync.Mutex
	r  *ring.Ring
}

// NewInMemorySink builds a sink holding at most size events.
func NewInMemorySink(size int) *InMemorySink {
	if size <= 0 {
		size = 256
	}
	return &InMemorySink{r: ring.New(size)}
}

func (s *InMemorySink) Record(_ context.Context, evt Event) error {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r.Value = evt
	s.r = s.r.Next()
	return nil
}

// Recent returns up to the ring's capacity of the most recently recorded
// events, oldest first.
func (s *InMemorySink) Recent() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, s.r.Len())
	s.r.Do(func(v any) {
		if v == nil {
			return
		}
		out = append(out, v.(Event))
	})
	return out
}

func (s *InMemorySink) Close() error { return nil }
