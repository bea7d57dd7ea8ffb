package cache

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ateliergems/cartcore/internal/domain"
	"github.com/ateliergems/cartcore/internal/store"
)

// CachedStore decorates a cart store with a read-through cache. Cache
// failures are logged and degraded around, never surfaced: the underlying
// store stays authoritative. Writes invalidate rather than update the
// cached copy.
type CachedStore struct {
	inner store.Store
	cache CartCache
	sfg   singleflight.Group // prevents cache stampede on concurrent misses
	log   zerolog.Logger
}

func NewCachedStore(inner store.Store, cache CartCache, log zerolog.Logger) *CachedStore {
	return &CachedStore{inner: inner, cache: cache, log: log}
}

// expiryLoader is implemented by backends that know when a record lapses,
// letting the cache cap how long a copy may be served.
type expiryLoader interface {
	LoadWithExpiry(ctx context.Context, id domain.Identity) (*domain.CartState, time.Time, error)
}

func (s *CachedStore) Load(ctx context.Context, id domain.Identity) (*domain.CartState, error) {
	v, err, _ := s.sfg.Do(id.Key(), func() (interface{}, error) {
		state, err := s.cache.Get(ctx, id)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.log.Warn().Err(err).Str("cart", id.Key()).Msg("cache get failed")
		}

		var notAfter time.Time
		if el, ok := s.inner.(expiryLoader); ok {
			state, notAfter, err = el.LoadWithExpiry(ctx, id)
		} else {
			state, err = s.inner.Load(ctx, id)
		}
		if err != nil {
			return nil, err
		}

		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if errSet := s.cache.Set(fillCtx, id, state, notAfter); errSet != nil {
				s.log.Warn().Err(errSet).Str("cart", id.Key()).Msg("cache fill failed")
			}
		}()

		return state, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.CartState), nil
}

func (s *CachedStore) Save(ctx context.Context, id domain.Identity, state *domain.CartState) error {
	if err := s.inner.Save(ctx, id, state); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, id domain.Identity) error {
	if err := s.inner.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *CachedStore) ListAbandoned(ctx context.Context, olderThan time.Duration) ([]store.UserCartSummary, error) {
	return s.inner.ListAbandoned(ctx, olderThan)
}

// PurgeExpiredGuests does not invalidate per-key; cached guest entries age
// out on their own TTL.
func (s *CachedStore) PurgeExpiredGuests(ctx context.Context) (int, error) {
	return s.inner.PurgeExpiredGuests(ctx)
}

func (s *CachedStore) invalidate(id domain.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("cart", id.Key()).Msg("cache invalidate failed")
	}
}
