package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ateliergems/cartcore/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// CartCache is a read-through cache for cart snapshots. NotAfter is the
// absolute time the underlying record lapses (zero for records without an
// expiry); a cached copy must never outlive it.
type CartCache interface {
	Get(ctx context.Context, id domain.Identity) (*domain.CartState, error)
	Set(ctx context.Context, id domain.Identity, state *domain.CartState, notAfter time.Time) error
	Delete(ctx context.Context, id domain.Identity) error
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

// cacheEnvelope wraps the snapshot with the record's own expiry, so a guest
// cart that lapses mid-TTL still reads as a miss.
type cacheEnvelope struct {
	State    domain.CartState `json:"state"`
	NotAfter time.Time        `json:"not_after,omitempty"`
}

func (r RedisCache) Get(ctx context.Context, id domain.Identity) (*domain.CartState, error) {
	data, err := r.client.Get(ctx, cacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var env cacheEnvelope
	if err2 := json.Unmarshal(data, &env); err2 != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err2)
	}
	if !env.NotAfter.IsZero() && !env.NotAfter.After(time.Now()) {
		return nil, ErrCacheMiss
	}

	return &env.State, nil
}

func (r RedisCache) Set(ctx context.Context, id domain.Identity, state *domain.CartState, notAfter time.Time) error {
	data, err := json.Marshal(cacheEnvelope{State: *state, NotAfter: notAfter})
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	// Jitter spreads expiry so a burst of sessions does not refill at once.
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter
	if !notAfter.IsZero() {
		remaining := time.Until(notAfter)
		if remaining <= 0 {
			return nil // already lapsed, nothing worth caching
		}
		if remaining < ttl {
			ttl = remaining
		}
	}
	if err := r.client.Set(ctx, cacheKey(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r RedisCache) Delete(ctx context.Context, id domain.Identity) error {
	if err := r.client.Del(ctx, cacheKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(id domain.Identity) string {
	return fmt.Sprintf("cart:%s", id.Key())
}
