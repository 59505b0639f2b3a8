package cache

import (
	"context"
	"time"

	"grouply/internal/core"
	"grouply/internal/storage"
)

// RosterCache memoises participant lookups. Participants are never edited, so
// a hit can only be stale by omission, and misses are not cached.
type RosterCache struct {
	store   storage.RosterReader
	entries *LRUCache[core.Participant]
}

var _ storage.RosterReader = (*RosterCache)(nil)

func NewRosterCache(store storage.RosterReader, size int, ttl time.Duration) *RosterCache {
	return &RosterCache{
		store:   store,
		entries: NewLRUCache[core.Participant](size, ttl),
	}
}

func (r *RosterCache) GetParticipant(ctx context.Context, id string) (core.Participant, error) {
	if p, ok := r.entries.Get(id); ok {
		return p, nil
	}
	p, err := r.store.GetParticipant(ctx, id)
	if err != nil {
		return core.Participant{}, err
	}
	r.entries.Set(id, p)
	return p, nil
}

// ListParticipants always reads through and refreshes the cached entries.
func (r *RosterCache) ListParticipants(ctx context.Context) ([]core.Participant, error) {
	list, err := r.store.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		r.entries.Set(p.ID, p)
	}
	return list, nil
}

func (r *RosterCache) CleanExpired() int { return r.entries.CleanExpired() }

func (r *RosterCache) Stats() (hits, misses uint64) { return r.entries.Stats() }
