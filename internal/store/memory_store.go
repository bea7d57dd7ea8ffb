package store

import (
	"context"
	"sync"
	"time"

	"github.com/ateliergems/cartcore/internal/domain"
)

type memoryEntry struct {
	state       domain.CartState
	createdAt   time.Time
	lastUpdated time.Time
	expiresAt   time.Time // zero for user carts
}

// MemoryStore implements Store with in-memory storage. Tests and
// single-process deployments substitute it for the Postgres backend.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*memoryEntry
	guestTTL time.Duration
	now      func() time.Time
}

func NewMemoryStore(guestTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*memoryEntry),
		guestTTL: guestTTL,
		now:      time.Now,
	}
}

func (s *MemoryStore) Load(ctx context.Context, id domain.Identity) (*domain.CartState, error) {
	state, _, err := s.LoadWithExpiry(ctx, id)
	return state, err
}

// LoadWithExpiry is Load plus the record's absolute expiry, so a cache
// layer can cap how long a copy may be served. User carts report a zero
// time (no expiry).
func (s *MemoryStore) LoadWithExpiry(_ context.Context, id domain.Identity) (*domain.CartState, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.entries[id.Key()]
	if !exists {
		return nil, time.Time{}, ErrCartNotFound
	}
	if id.IsGuest() && !entry.expiresAt.After(s.now()) {
		return nil, time.Time{}, ErrCartNotFound
	}

	state := entry.state.Clone()
	return &state, entry.expiresAt, nil
}

func (s *MemoryStore) Save(_ context.Context, id domain.Identity, state *domain.CartState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, exists := s.entries[id.Key()]
	if !exists {
		entry = &memoryEntry{createdAt: now}
		s.entries[id.Key()] = entry
	}
	entry.state = state.Clone()
	entry.lastUpdated = now
	if id.IsGuest() {
		entry.expiresAt = now.Add(s.guestTTL)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id domain.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id.Key())
	return nil
}

func (s *MemoryStore) ListAbandoned(_ context.Context, olderThan time.Duration) ([]UserCartSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-olderThan)
	var out []UserCartSummary
	for key, entry := range s.entries {
		if entry.expiresAt.IsZero() && // user carts only
			len(entry.state.Items) > 0 &&
			entry.lastUpdated.Before(cutoff) {
			out = append(out, UserCartSummary{
				UserID:      key[len("user:"):],
				ItemCount:   entry.state.ItemCount(),
				TotalValue:  entry.state.Total,
				LastUpdated: entry.lastUpdated,
			})
		}
	}
	return out, nil
}

func (s *MemoryStore) PurgeExpiredGuests(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0
	for key, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !entry.expiresAt.After(now) {
			delete(s.entries, key)
			purged++
		}
	}
	return purged, nil
}
