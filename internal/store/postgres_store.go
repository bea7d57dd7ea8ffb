package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ateliergems/cartcore/internal/domain"
)

// PostgresStore implements Store over the user_carts and guest_carts tables.
// Cart snapshots are stored whole as JSON; item_count and total_value are
// denormalized alongside for the abandoned-cart listing.
type PostgresStore struct {
	db       *sql.DB
	guestTTL time.Duration
}

func NewPostgresStore(db *sql.DB, guestTTL time.Duration) *PostgresStore {
	return &PostgresStore{db: db, guestTTL: guestTTL}
}

func (s *PostgresStore) Load(ctx context.Context, id domain.Identity) (*domain.CartState, error) {
	state, _, err := s.LoadWithExpiry(ctx, id)
	return state, err
}

// LoadWithExpiry is Load plus the record's absolute expiry, so a cache
// layer can cap how long a copy may be served. User carts report a zero
// time (no expiry).
func (s *PostgresStore) LoadWithExpiry(ctx context.Context, id domain.Identity) (*domain.CartState, time.Time, error) {
	var data []byte
	var expiresAt time.Time
	var err error
	if id.IsGuest() {
		// Expired guest records behave as not-found; the sweeper collects
		// them later.
		err = s.db.QueryRowContext(ctx,
			`SELECT cart_data, expires_at FROM guest_carts WHERE session_id = $1 AND expires_at > now()`,
			id.SessionID).Scan(&data, &expiresAt)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT cart_data FROM user_carts WHERE user_id = $1`,
			id.UserID).Scan(&data)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrCartNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("query cart: %w", err)
	}

	var state domain.CartState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, time.Time{}, fmt.Errorf("unmarshal cart data: %w", err)
	}
	return &state, expiresAt, nil
}

func (s *PostgresStore) Save(ctx context.Context, id domain.Identity, state *domain.CartState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal cart data: %w", err)
	}

	if id.IsGuest() {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO guest_carts (session_id, cart_data, item_count, total_value, expires_at, created_at, last_updated)
			VALUES ($1, $2, $3, $4, now() + $5 * interval '1 second', now(), now())
			ON CONFLICT (session_id) DO UPDATE
			SET cart_data    = EXCLUDED.cart_data,
			    item_count   = EXCLUDED.item_count,
			    total_value  = EXCLUDED.total_value,
			    expires_at   = EXCLUDED.expires_at,
			    last_updated = now()`,
			id.SessionID, data, state.ItemCount(), state.Total, int64(s.guestTTL.Seconds()))
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO user_carts (user_id, cart_data, item_count, total_value, created_at, last_updated)
			VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (user_id) DO UPDATE
			SET cart_data    = EXCLUDED.cart_data,
			    item_count   = EXCLUDED.item_count,
			    total_value  = EXCLUDED.total_value,
			    last_updated = now()`,
			id.UserID, data, state.ItemCount(), state.Total)
	}
	if err != nil {
		return fmt.Errorf("upsert cart: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id domain.Identity) error {
	var err error
	if id.IsGuest() {
		_, err = s.db.ExecContext(ctx, `DELETE FROM guest_carts WHERE session_id = $1`, id.SessionID)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM user_carts WHERE user_id = $1`, id.UserID)
	}
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAbandoned(ctx context.Context, olderThan time.Duration) ([]UserCartSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, item_count, total_value, last_updated
		FROM user_carts
		WHERE item_count > 0 AND last_updated < now() - $1 * interval '1 second'
		ORDER BY last_updated`,
		int64(olderThan.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("query abandoned carts: %w", err)
	}
	defer rows.Close()

	var out []UserCartSummary
	for rows.Next() {
		var summary UserCartSummary
		if err := rows.Scan(&summary.UserID, &summary.ItemCount, &summary.TotalValue, &summary.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan abandoned cart row: %w", err)
		}
		out = append(out, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) PurgeExpiredGuests(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM guest_carts WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purge expired guest carts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return int(affected), nil
}
