package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/archscope/archscope/internal/models"
)

func newMemoryStore(t *testing.T) *EventStore {
	t.Helper()
	s, err := Open("", nil)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	return s
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	s := newMemoryStore(t)

	for i := 1; i <= 3; i++ {
		seq, err := s.Append(models.LogEvent{CorrelationID: "req-1", Service: "frontend"})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != uint64(i) {
			t.Errorf("sequence = %d, want %d", seq, i)
		}
	}

	events := s.QueryByCorrelationID("req-1")
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, event := range events {
		if event.Sequence != uint64(i+1) {
			t.Errorf("event %d has sequence %d, want %d", i, event.Sequence, i+1)
		}
		if event.Timestamp.IsZero() {
			t.Errorf("event %d has zero timestamp", i)
		}
	}
}

func TestAppendRejectsMalformedEvents(t *testing.T) {
	s := newMemoryStore(t)

	cases := []models.LogEvent{
		{CorrelationID: "", Service: "frontend"},
		{CorrelationID: "   ", Service: "frontend"},
		{CorrelationID: "req-1", Service: ""},
		{CorrelationID: "req-1", Service: "\t"},
	}
	for i, event := range cases {
		if _, err := s.Append(event); !errors.Is(err, ErrMalformedEvent) {
			t.Errorf("case %d: err = %v, want ErrMalformedEvent", i, err)
		}
	}
	if stats := s.Stats(); stats.TotalEvents != 0 {
		t.Errorf("rejected events were stored: total = %d", stats.TotalEvents)
	}
}

func TestQueryUnknownCorrelationID(t *testing.T) {
	s := newMemoryStore(t)
	events := s.QueryByCorrelationID("no-such-id")
	if events == nil {
		t.Fatal("got nil slice, want empty")
	}
	if len(events) != 0 {
		t.Fatalf("got %d events, want 0", len(events))
	}
}

func TestSearchFilters(t *testing.T) {
	s := newMemoryStore(t)
	seed := []models.LogEvent{
		{CorrelationID: "req-1", Service: "frontend", Payload: map[string]any{"user_id": "u1"}},
		{CorrelationID: "req-1", Service: "cart", Payload: map[string]any{"user_id": "u1"}},
		{CorrelationID: "req-2", Service: "frontend", Payload: map[string]any{"user_id": "u2"}},
	}
	for _, event := range seed {
		if _, err := s.Append(event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if got := s.Search(Filter{CorrelationID: "req-1"}); len(got) != 2 {
		t.Errorf("by correlation id: got %d, want 2", len(got))
	}
	if got := s.Search(Filter{Service: "frontend"}); len(got) != 2 {
		t.Errorf("by service: got %d, want 2", len(got))
	}
	if got := s.Search(Filter{UserID: "u2"}); len(got) != 1 {
		t.Errorf("by user id: got %d, want 1", len(got))
	}
	if got := s.Search(Filter{Service: "frontend", UserID: "u1"}); len(got) != 1 {
		t.Errorf("combined filter: got %d, want 1", len(got))
	}
	if got := s.Search(Filter{}); len(got) != 3 {
		t.Errorf("empty filter: got %d, want all 3", len(got))
	}
}

func TestStats(t *testing.T) {
	s := newMemoryStore(t)
	for _, event := range []models.LogEvent{
		{CorrelationID: "req-1", Service: "frontend"},
		{CorrelationID: "req-1", Service: "cart"},
		{CorrelationID: "req-2", Service: "cart"},
	} {
		if _, err := s.Append(event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	stats := s.Stats()
	if stats.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
	if stats.UniqueServices != 2 {
		t.Errorf("UniqueServices = %d, want 2", stats.UniqueServices)
	}
	if stats.UniqueCorrelationIDs != 2 {
		t.Errorf("UniqueCorrelationIDs = %d, want 2", stats.UniqueCorrelationIDs)
	}
	if len(stats.Services) != 2 || stats.Services[0] != "cart" || stats.Services[1] != "frontend" {
		t.Errorf("Services = %v, want sorted [cart frontend]", stats.Services)
	}
}

func TestConcurrentAppends(t *testing.T) {
	s := newMemoryStore(t)

	const goroutines = 16
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				_, err := s.Append(models.LogEvent{
					CorrelationID: fmt.Sprintf("req-%d", g),
					Service:       fmt.Sprintf("service-%d", g%4),
				})
				if err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(g)
	}
	wg.Wait()

	stats := s.Stats()
	if want := goroutines * perGoroutine; stats.TotalEvents != want {
		t.Fatalf("TotalEvents = %d, want %d", stats.TotalEvents, want)
	}

	// Every goroutine's events kept their relative append order.
	for g := 0; g < goroutines; g++ {
		events := s.QueryByCorrelationID(fmt.Sprintf("req-%d", g))
		if len(events) != perGoroutine {
			t.Fatalf("goroutine %d: got %d events, want %d", g, len(events), perGoroutine)
		}
		for i := 1; i < len(events); i++ {
			if events[i].Sequence <= events[i-1].Sequence {
				t.Fatalf("goroutine %d: sequences out of order at %d", g, i)
			}
		}
	}
}

func TestPersistenceReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, event := range []models.LogEvent{
		{CorrelationID: "req-1", Service: "frontend", EventType: "request_received"},
		{CorrelationID: "req-1", Service: "cart", EventType: "db_query"},
	} {
		if _, err := s.Append(event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	events := reopened.QueryByCorrelationID("req-1")
	if len(events) != 2 {
		t.Fatalf("replayed %d events, want 2", len(events))
	}
	if events[0].Service != "frontend" || events[1].Service != "cart" {
		t.Errorf("replay order broken: %v then %v", events[0].Service, events[1].Service)
	}

	// New appends continue the sequence after the replayed events.
	seq, err := reopened.Append(models.LogEvent{CorrelationID: "req-2", Service: "payments"})
	if err != nil {
		t.Fatalf("append after replay: %v", err)
	}
	if seq != 3 {
		t.Errorf("sequence after replay = %d, want 3", seq)
	}
}

func TestClearResetsStoreAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	if _, err := s.Append(models.LogEvent{CorrelationID: "req-1", Service: "frontend"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if stats := s.Stats(); stats.TotalEvents != 0 || stats.UniqueServices != 0 {
		t.Errorf("stats after clear = %+v, want zeroes", stats)
	}
	seq, err := s.Append(models.LogEvent{CorrelationID: "req-2", Service: "cart"})
	if err != nil {
		t.Fatalf("append after clear: %v", err)
	}
	if seq != 1 {
		t.Errorf("sequence after clear = %d, want 1", seq)
	}
}
