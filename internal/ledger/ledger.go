package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ateliergems/cartcore/internal/domain"
)

// Common errors returned by ledger backends.
var (
	ErrItemNotFound = errors.New("inventory item not found")
)

// InsufficientInventoryError reports every item a reserve batch could not
// cover. The batch was rolled back; nothing was reserved.
type InsufficientInventoryError struct {
	Shortfalls []domain.Shortfall
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %d item(s)", len(e.Shortfalls))
}

// Ledger is the single source of truth for availability. Only the ledger
// grants or releases reservations.
//
// Reserve is all-or-nothing: either every request is granted or none is,
// and the grant is an atomic conditional update per item so two shoppers
// racing for the last unit cannot both succeed. CheckAvailability is
// advisory only; a reserve right after a positive check can still fail and
// callers must treat that as a normal outcome.
type Ledger interface {
	// CheckAvailability answers, per request, whether available >= quantity.
	// Read-only; never mutates state. Unknown items report available 0.
	CheckAvailability(ctx context.Context, reqs []domain.StockRequest) (domain.AvailabilityReport, error)

	// Reserve increments reserved for every request as one atomic batch.
	// Returns *InsufficientInventoryError when any item falls short.
	Reserve(ctx context.Context, reqs []domain.StockRequest) error

	// Release decrements reserved, floored at zero. Idempotent: releasing
	// more than was reserved clamps rather than erroring.
	Release(ctx context.Context, reqs []domain.StockRequest) error

	// SetOnHand sets the owned quantity for an item, creating the row when
	// absent. Used for seeding and restock flows.
	SetOnHand(ctx context.Context, itemID int64, quantity int32) error

	// GetRecords returns current counts for the given items, skipping
	// unknown IDs.
	GetRecords(ctx context.Context, itemIDs []int64) ([]domain.InventoryRecord, error)
}

// sumRequests collapses duplicate item IDs in a request batch so a single
// conditional update per item covers the whole batch. Order of first
// appearance is preserved.
func sumRequests(reqs []domain.StockRequest) []domain.StockRequest {
	idx := make(map[int64]int, len(reqs))
	out := make([]domain.StockRequest, 0, len(reqs))
	for _, r := range reqs {
		if i, ok := idx[r.ItemID]; ok {
			out[i].Quantity += r.Quantity
			continue
		}
		idx[r.ItemID] = len(out)
		out = append(out, r)
	}
	return out
}
