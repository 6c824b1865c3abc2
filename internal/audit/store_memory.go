package audit

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryStore is a thread-safe, append-only in-memory Store suitable for
// development, testing, and single-instance deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []*Event
	seen   map[string]bool
}

// NewInMemoryStore creates a new empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make([]*Event, 0), seen: make(map[string]bool)}
}

// Append adds an event to the ledger. The audit id must be unique, matching
// the primary key constraint of the Postgres store. The event is copied so
// later caller mutations cannot alter what was recorded.
func (s *InMemoryStore) Append(_ context.Context, event *Event) error {
	cp := *event
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[cp.AuditID] {
		return fmt.Errorf("audit append: duplicate audit_id %s", cp.AuditID)
	}
	s.seen[cp.AuditID] = true
	s.events = append(s.events, &cp)
	return nil
}

// ListRecent returns up to limit events, newest first.
func (s *InMemoryStore) ListRecent(_ context.Context, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]*Event, 0, limit)
	for i := len(s.events) - 1; i >= 0 && len(result) < limit; i-- {
		cp := *s.events[i]
		result = append(result, &cp)
	}
	return result, nil
}

// Summarize aggregates up to limit of the most recent events.
func (s *InMemoryStore) Summarize(ctx context.Context, limit int) (*Summary, error) {
	events, err := s.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		TotalEvents: len(events),
		ByAction:    make(map[string]int),
		ByActor:     make(map[string]int),
	}
	for _, e := range events {
		summary.ByAction[string(e.Action)]++
		summary.ByActor[e.ActorID]++
		if e.BreakGlass {
			summary.BreakGlassCount++
		}
	}
	return summary, nil
}
