// Package audit provides the optional durable sink for security events
// raised by the Error Manager, following the same
// in-memory-by-default/Postgres-if-configured split the teacher uses
// for its own store selection.
package audit

import (
	"context"
	"time"
)

// Event is one security-relevant occurrence: an auth/authz failure, a
// rate-limit rejection, or an IP block.
type Event struct {
	Code       string
	AdminID    string
	RemoteAddr string
	Operation  string
	Reason     string
	At         time.Time
}

// Sink persists security events. Implementations must not block the
// caller for long; Record runs off the hot path but still under a
// caller-supplied context deadline.
type Sink interface {
	Record(ctx context.Context, evt Event) error
	Close() error
}

// NewSink returns a Postgres-backed sink when databaseURL is non-empty,
// otherwise an in-memory ring buffer.
func NewSink(ctx context.Context, databaseURL string, ringSize int) (Sink, error) {
	if trimmed(databaseURL) == "" {
		return NewInMemorySink(ringSize), nil
	}
	return NewPostgresSink(ctx, databaseURL)
}

func trimmed(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
