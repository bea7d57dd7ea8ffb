package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ateliergems/cartcore/internal/domain"
)

// PostgresLedger implements Ledger against the shared inventory table. The
// reserve path is a single conditional UPDATE per item inside one
// transaction: the availability check and the increment are the same
// statement, so there is no window between checking and writing for a
// concurrent shopper to slip through.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) CheckAvailability(ctx context.Context, reqs []domain.StockRequest) (domain.AvailabilityReport, error) {
	ids := make([]int64, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ItemID)
	}

	avail := make(map[int64]int32, len(ids))
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, quantity - reserved_quantity FROM inventory WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return domain.AvailabilityReport{}, fmt.Errorf("query availability: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var a int32
		if err := rows.Scan(&id, &a); err != nil {
			return domain.AvailabilityReport{}, fmt.Errorf("scan availability row: %w", err)
		}
		avail[id] = a
	}
	if err := rows.Err(); err != nil {
		return domain.AvailabilityReport{}, fmt.Errorf("row iteration error: %w", err)
	}

	report := domain.AvailabilityReport{OK: true, Lines: make([]domain.Availability, 0, len(reqs))}
	for _, r := range reqs {
		a := avail[r.ItemID] // unknown items report zero
		ok := a >= r.Quantity
		if !ok {
			report.OK = false
		}
		report.Lines = append(report.Lines, domain.Availability{
			ItemID:    r.ItemID,
			Requested: r.Quantity,
			Available: a,
			OK:        ok,
		})
	}
	return report, nil
}

func (l *PostgresLedger) Reserve(ctx context.Context, reqs []domain.StockRequest) error {
	reqs = sumRequests(reqs)

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reserve tx: %w", err)
	}
	defer tx.Rollback()

	var shortfalls []domain.Shortfall
	for _, r := range reqs {
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory
			SET reserved_quantity = reserved_quantity + $1,
			    updated_at = now()
			WHERE id = $2
			  AND quantity - reserved_quantity >= $1`,
			r.Quantity, r.ItemID)
		if err != nil {
			return fmt.Errorf("reserve item %d: %w", r.ItemID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reserve item %d rows affected: %w", r.ItemID, err)
		}
		if affected == 0 {
			var avail int32
			err := tx.QueryRowContext(ctx,
				`SELECT quantity - reserved_quantity FROM inventory WHERE id = $1`,
				r.ItemID).Scan(&avail)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("query shortfall for item %d: %w", r.ItemID, err)
			}
			if avail < 0 {
				avail = 0
			}
			shortfalls = append(shortfalls, domain.Shortfall{
				ItemID:    r.ItemID,
				Requested: r.Quantity,
				Available: avail,
				Shortfall: r.Quantity - avail,
			})
		}
	}

	if len(shortfalls) > 0 {
		// Deferred rollback undoes the granted part of the batch.
		return &InsufficientInventoryError{Shortfalls: shortfalls}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reserve tx: %w", err)
	}
	return nil
}

func (l *PostgresLedger) Release(ctx context.Context, reqs []domain.StockRequest) error {
	reqs = sumRequests(reqs)

	for _, r := range reqs {
		_, err := l.db.ExecContext(ctx, `
			UPDATE inventory
			SET reserved_quantity = GREATEST(reserved_quantity - $1, 0),
			    updated_at = now()
			WHERE id = $2`,
			r.Quantity, r.ItemID)
		if err != nil {
			return fmt.Errorf("release item %d: %w", r.ItemID, err)
		}
	}
	return nil
}

func (l *PostgresLedger) SetOnHand(ctx context.Context, itemID int64, quantity int32) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO inventory (id, quantity, reserved_quantity, updated_at)
		VALUES ($1, $2, 0, now())
		ON CONFLICT (id) DO UPDATE
		SET quantity = EXCLUDED.quantity, updated_at = now()`,
		itemID, quantity)
	if err != nil {
		return fmt.Errorf("set on-hand for item %d: %w", itemID, err)
	}
	return nil
}

func (l *PostgresLedger) GetRecords(ctx context.Context, itemIDs []int64) ([]domain.InventoryRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, quantity, reserved_quantity FROM inventory WHERE id = ANY($1)`,
		pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("query inventory records: %w", err)
	}
	defer rows.Close()

	var out []domain.InventoryRecord
	for rows.Next() {
		var rec domain.InventoryRecord
		if err := rows.Scan(&rec.ItemID, &rec.OnHand, &rec.Reserved); err != nil {
			return nil, fmt.Errorf("scan inventory row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}
