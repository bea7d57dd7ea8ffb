package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ateliergems/cartcore/internal/domain"
	pg "github.com/ateliergems/cartcore/internal/postgres"
)

func setupPostgresStore(t *testing.T, guestTTL time.Duration) *PostgresStore {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := pgcontainer.Run(ctx, "postgres:16",
		pgcontainer.WithDatabase("cartcore_test"),
		pgcontainer.WithUsername("cartcore"),
		pgcontainer.WithPassword("cartcore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", uri)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())

	require.NoError(t, pg.RunMigrations(db, "../../migrations"))
	return NewPostgresStore(db, guestTTL)
}

func TestPostgresStore_UserCartRoundTrip(t *testing.T) {
	s := setupPostgresStore(t, testGuestTTL)
	ctx := context.Background()
	id := domain.UserIdentity("user-1")

	state := stateOf(standardItem(1, 2, "10.00"), customItem(1, "120.00"))
	require.NoError(t, s.Save(ctx, id, state))

	loaded, err := s.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 2)
	assert.Equal(t, domain.KindCustomDesign, loaded.Items[1].Kind)
	require.NotNil(t, loaded.Items[1].Design)
	assert.True(t, loaded.Total.Equal(state.Total))

	// Upsert overwrites the whole snapshot.
	require.NoError(t, s.Save(ctx, id, stateOf(standardItem(1, 5, "10.00"))))
	loaded, err = s.Load(ctx, id)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 1)
	assert.Equal(t, 5, loaded.Items[0].Quantity)

	require.NoError(t, s.Delete(ctx, id))
	_, err = s.Load(ctx, id)
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestPostgresStore_GuestExpiryBehavesAsNotFound(t *testing.T) {
	// A one-second TTL stands in for the seven-day default so the test can
	// cross the expiry boundary for real.
	s := setupPostgresStore(t, time.Second)
	ctx := context.Background()
	id := domain.GuestIdentity("sess-1")

	require.NoError(t, s.Save(ctx, id, stateOf(standardItem(1, 1, "10.00"))))

	_, err := s.Load(ctx, id)
	require.NoError(t, err)

	time.Sleep(1500 * time.Millisecond)

	_, err = s.Load(ctx, id)
	assert.ErrorIs(t, err, ErrCartNotFound)

	purged, err := s.PurgeExpiredGuests(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestPostgresStore_ListAbandoned(t *testing.T) {
	s := setupPostgresStore(t, testGuestTTL)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, domain.UserIdentity("stale"), stateOf(standardItem(1, 3, "10.00"))))
	require.NoError(t, s.Save(ctx, domain.UserIdentity("empty"), stateOf()))

	// Age the stale cart past the threshold directly in the table.
	_, err := s.db.ExecContext(ctx,
		`UPDATE user_carts SET last_updated = now() - interval '31 days' WHERE user_id = 'stale'`)
	require.NoError(t, err)

	abandoned, err := s.ListAbandoned(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, abandoned, 1)
	assert.Equal(t, "stale", abandoned[0].UserID)
	assert.Equal(t, 3, abandoned[0].ItemCount)
	assert.True(t, abandoned[0].TotalValue.GreaterThan(decimal.Zero))
}
