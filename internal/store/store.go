package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ateliergems/cartcore/internal/domain"
)

// Common errors returned by cart stores.
var (
	ErrCartNotFound = errors.New("cart not found")
)

// UserCartSummary is one row of the abandoned-cart listing used by recovery
// workflows.
type UserCartSummary struct {
	UserID      string          `json:"user_id"`
	ItemCount   int             `json:"item_count"`
	TotalValue  decimal.Decimal `json:"total_value"`
	LastUpdated time.Time       `json:"last_updated"`
}

// Store is durable read/write of a CartState keyed by identity. Save is a
// full-snapshot upsert with last-writer-wins semantics at the storage layer;
// conflict avoidance is the sync coordinator's job, not this component's.
//
// Loading an expired guest record behaves as not-found; the record becomes
// eligible for garbage collection.
type Store interface {
	Load(ctx context.Context, id domain.Identity) (*domain.CartState, error)
	Save(ctx context.Context, id domain.Identity, state *domain.CartState) error
	Delete(ctx context.Context, id domain.Identity) error

	// ListAbandoned returns non-empty user carts untouched past the
	// threshold.
	ListAbandoned(ctx context.Context, olderThan time.Duration) ([]UserCartSummary, error)

	// PurgeExpiredGuests deletes expired guest records and reports how many
	// were removed. Safe to run concurrently with live sessions; it only
	// touches cart storage, never the inventory ledger.
	PurgeExpiredGuests(ctx context.Context) (int, error)
}

// Merge folds a guest cart into a user cart deterministically: equivalent
// standard lines have their quantities summed, custom designs are always
// appended (each is unique, never deduplicated), and the summed cart is
// clamped to maxItems total units. Totals are recomputed from the merged
// item list, never carried over from either input.
func Merge(guest, user *domain.CartState, pricing domain.Pricing, maxItems int) domain.CartState {
	var merged []domain.CartItem
	if user != nil {
		merged = user.Clone().Items
	}

	total := 0
	for _, it := range merged {
		total += it.Quantity
	}

	if guest != nil {
		for _, gi := range guest.Clone().Items {
			room := maxItems - total
			if room <= 0 {
				break
			}

			take := gi.Quantity
			if take > room {
				take = room
			}

			matched := false
			if gi.Kind == domain.KindStandard {
				for i := range merged {
					if merged[i].EquivalentTo(gi) {
						merged[i].Quantity += take
						merged[i].UpdatedAt = gi.UpdatedAt
						matched = true
						break
					}
				}
			}
			if !matched {
				gi.Quantity = take
				merged = append(merged, gi)
			}
			total += take
		}
	}

	return domain.ComputeTotals(merged, pricing)
}
