package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/xancrypt/xancrypt/domain/history"
	"github.com/xancrypt/xancrypt/ports"
)

// HistoryStore implements ports.HistoryStore on Redis.
// Events live in a list per user; a companion set holds the dedup keys.
type HistoryStore struct {
	client redis.UniversalClient
	opts   options
}

// NewHistoryStore creates a Redis history store.
func NewHistoryStore(client redis.UniversalClient, opts ...Option) *HistoryStore {
	return &HistoryStore{client: client, opts: newOptions(opts)}
}

func (s *HistoryStore) keys(userID string) (events, seen string) {
	base := s.opts.prefix + "history:" + userID
	return base, base + ":seen"
}

// Append stores e unless the same second and counts were already recorded.
func (s *HistoryStore) Append(ctx context.Context, userID string, e history.Event) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	events, seen := s.keys(userID)
	dedup := fmt.Sprintf("%d:%d:%d", e.Time.Unix(), e.CSSCount, e.JSCount)

	added, err := s.client.SAdd(ctx, seen, dedup).Result()
	if err != nil {
		return false, fmt.Errorf("record history key: %w", err)
	}
	if added == 0 {
		return false, nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return false, err
	}
	if err := s.client.RPush(ctx, events, data).Err(); err != nil {
		s.client.SRem(ctx, seen, dedup)
		return false, fmt.Errorf("append history event: %w", err)
	}
	return true, nil
}

// List returns the user's events, newest first.
func (s *HistoryStore) List(ctx context.Context, userID string) ([]history.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	events, _ := s.keys(userID)
	raw, err := s.client.LRange(ctx, events, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	out := make([]history.Event, 0, len(raw))
	for _, item := range raw {
		var e history.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode history event: %w", err)
		}
		e.Time = e.Time.UTC()
		out = append(out, e)
	}
	return history.NewestFirst(out), nil
}

// Clear removes every event of the user.
func (s *HistoryStore) Clear(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	events, seen := s.keys(userID)
	return s.client.Del(ctx, events, seen).Err()
}

// Ensure interface compliance.
var _ ports.HistoryStore = (*HistoryStore)(nil)
