package memory

import (
	"context"
	"sync"

	"github.com/xancrypt/xancrypt/domain/history"
	"github.com/xancrypt/xancrypt/ports"
)

// HistoryStore is an in-memory implementation of ports.HistoryStore.
type HistoryStore struct {
	mu     sync.RWMutex
	events map[string][]history.Event
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		events: make(map[string][]history.Event),
	}
}

// Append stores e unless the user already has the same event.
func (s *HistoryStore) Append(ctx context.Context, userID string, e history.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if history.IsDuplicate(s.events[userID], e) {
		return false, nil
	}
	s.events[userID] = append(s.events[userID], e)
	return true, nil
}

// List returns the user's events, newest first.
func (s *HistoryStore) List(ctx context.Context, userID string) ([]history.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return history.NewestFirst(s.events[userID]), nil
}

// Clear removes every event of the user.
func (s *HistoryStore) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, userID)
	return nil
}

// Ensure interface compliance.
var _ ports.HistoryStore = (*HistoryStore)(nil)
