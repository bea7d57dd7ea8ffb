package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ateliergems/cartcore/internal/domain"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client), mr
}

func testState(qty int) *domain.CartState {
	now := time.Now()
	s := domain.ComputeTotals([]domain.CartItem{{
		LineID:    uuid.New().String(),
		Kind:      domain.KindStandard,
		ItemID:    1,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString("10.00"),
		AddedAt:   now,
		UpdatedAt: now,
	}}, domain.DefaultPricing())
	return &s
}

func TestGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	id := domain.GuestIdentity("sess-1")

	data, err := json.Marshal(cacheEnvelope{State: *testState(2)})
	require.NoError(t, err)
	mr.Set(cacheKey(id), string(data))

	state, err := cache.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, state.Items, 1)
	assert.Equal(t, 2, state.Items[0].Quantity)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	state, err := cache.Get(context.Background(), domain.GuestIdentity("nope"))
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, state)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	id := domain.UserIdentity("u1")

	mr.Set(cacheKey(id), `{"items": [`)

	_, err := cache.Get(context.Background(), id)
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestSet_WithTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	id := domain.GuestIdentity("sess-2")

	require.NoError(t, cache.Set(context.Background(), id, testState(1), time.Time{}))

	ttl := mr.TTL(cacheKey(id))
	assert.True(t, ttl >= 15*time.Minute, "TTL should be at least base TTL")
	assert.True(t, ttl <= 20*time.Minute, "TTL should be base + max jitter")
}

func TestSet_TTLCappedAtRecordExpiry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	id := domain.GuestIdentity("sess-3")

	require.NoError(t, cache.Set(context.Background(), id, testState(1), time.Now().Add(30*time.Second)))

	ttl := mr.TTL(cacheKey(id))
	assert.True(t, ttl > 0, "entry should carry a TTL")
	assert.True(t, ttl <= 30*time.Second, "TTL must not outlive the record")
}

func TestSet_SkipsLapsedRecord(t *testing.T) {
	cache, mr := setupTestRedis(t)
	id := domain.GuestIdentity("sess-4")

	require.NoError(t, cache.Set(context.Background(), id, testState(1), time.Now().Add(-time.Second)))
	assert.False(t, mr.Exists(cacheKey(id)))
}

func TestGet_LapsedEnvelopeIsAMiss(t *testing.T) {
	cache, mr := setupTestRedis(t)
	id := domain.GuestIdentity("sess-5")

	data, err := json.Marshal(cacheEnvelope{State: *testState(1), NotAfter: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	mr.Set(cacheKey(id), string(data))

	_, err = cache.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()
	id := domain.UserIdentity("u2")

	require.NoError(t, cache.Set(ctx, id, testState(1), time.Time{}))
	assert.True(t, mr.Exists(cacheKey(id)))

	require.NoError(t, cache.Delete(ctx, id))
	assert.False(t, mr.Exists(cacheKey(id)))

	// Deleting a missing key is not an error.
	assert.NoError(t, cache.Delete(ctx, id))
}

func TestCacheKey_SeparatesGuestAndUser(t *testing.T) {
	assert.Equal(t, "cart:guest:abc", cacheKey(domain.GuestIdentity("abc")))
	assert.Equal(t, "cart:user:abc", cacheKey(domain.UserIdentity("abc")))
}
