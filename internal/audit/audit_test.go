package audit

import (
	"context"
	"testing"
)

func TestInMemorySinkRecordsAndReturnsRecent(t *testing.T) {
	s := NewInMemorySink(3)
	for i, code := range []string{"A", "B", "C"} {
		if err := s.Record(context.Background(), Event{Code: code, Operation: "op"}); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}
	recent := s.Recent()
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}
	if recent[0].Code != "A" || recent[2].Code != "C" {
		t.Fatalf("unexpected order: %+v", recent)
	}
}

func TestInMemorySinkEvictsOldestWhenFull(t *testing.T) {
	s := NewInMemorySink(2)
	s.Record(context.Background(), Event{Code: "A"})
	s.Record(context.Background(), Event{Code: "B"})
	s.Record(context.Background(), Event{Code: "C"})

	recent := s.Recent()
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	for _, e := range recent {
		if e.Code == "A" {
			t.Fatalf("oldest event should have been evicted, got %+v", recent)
		}
	}
}

func TestInMemorySinkStampsRecordTimeWhenUnset(t *testing.T) {
	s := NewInMemorySink(1)
	s.Record(context.Background(), Event{Code: "A"})
	recent := s.Recent()
	if len(recent) != 1 || recent[0].At.IsZero() {
		t.Fatalf("expected Record to stamp a zero-value At, got %+v", recent)
	}
}

func TestNewSinkPicksInMemoryWhenNoDatabaseURL(t *testing.T) {
	sink, err := NewSink(context.Background(), "   ", 4)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if _, ok := sink.(*InMemorySink); !ok {
		t.Fatalf("NewSink with blank URL should return an InMemorySink, got %T", sink)
	}
}
