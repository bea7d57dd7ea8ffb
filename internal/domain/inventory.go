package domain

// StockStatus is derived from on-hand and reserved counts; it is never an
// independently settable field.
type StockStatus string

const (
	StatusInStock    StockStatus = "in_stock"
	StatusLowStock   StockStatus = "low_stock"
	StatusOutOfStock StockStatus = "out_of_stock"
)

// DefaultLowStockThreshold is the available count at or below which an item
// is flagged as low stock.
const DefaultLowStockThreshold int32 = 5

// InventoryRecord is one row of the shared inventory pool.
type InventoryRecord struct {
	ItemID   int64 `json:"item_id"`
	OnHand   int32 `json:"on_hand"`
	Reserved int32 `json:"reserved"`
}

// Available is on-hand minus reserved. Always recomputed, never stored.
func (r InventoryRecord) Available() int32 {
	return r.OnHand - r.Reserved
}

// Status derives the stock status from the current counts.
func (r InventoryRecord) Status(lowStockAt int32) StockStatus {
	avail := r.Available()
	switch {
	case avail <= 0:
		return StatusOutOfStock
	case avail <= lowStockAt:
		return StatusLowStock
	default:
		return StatusInStock
	}
}

// StockRequest asks for quantity units of one item.
type StockRequest struct {
	ItemID   int64 `json:"item_id"`
	Quantity int32 `json:"quantity"`
}

// Availability is the advisory answer for one StockRequest. A later reserve
// can still fail even when OK is true; callers treat that as normal.
type Availability struct {
	ItemID    int64 `json:"item_id"`
	Requested int32 `json:"requested"`
	Available int32 `json:"available"`
	OK        bool  `json:"ok"`
}

// AvailabilityReport covers a batch of requests.
type AvailabilityReport struct {
	Lines []Availability `json:"lines"`
	OK    bool           `json:"ok"`
}

// Shortfall describes one item a reservation could not cover.
type Shortfall struct {
	ItemID    int64 `json:"item_id"`
	Requested int32 `json:"requested"`
	Available int32 `json:"available"`
	Shortfall int32 `json:"shortfall"`
}

// ReservationResult is the outcome of an all-or-nothing reserve attempt.
// On failure nothing was reserved and Shortfalls lists every item that
// fell short.
type ReservationResult struct {
	OK         bool        `json:"ok"`
	Shortfalls []Shortfall `json:"shortfalls,omitempty"`
}

// StockChange is broadcast when an item's counts move, so displayed carts
// can re-validate proactively.
type StockChange struct {
	ItemID   int64       `json:"item_id"`
	OnHand   int32       `json:"on_hand"`
	Reserved int32       `json:"reserved"`
	Status   StockStatus `json:"status"`
}

// LineStatus classifies one cart line after validation against inventory.
type LineStatus string

const (
	LineOK              LineStatus = "ok"
	LineQuantityReduced LineStatus = "quantity_reduced"
	LineUnavailable     LineStatus = "unavailable"
)

// LineValidation is the validation outcome for one cart line. For
// quantity_reduced lines Available carries how many units could be had.
type LineValidation struct {
	LineID    string     `json:"line_id"`
	ItemID    int64      `json:"item_id,omitempty"`
	Status    LineStatus `json:"status"`
	Available int32      `json:"available,omitempty"`
}

// ValidationReport covers every line of a validated cart. The cart itself is
// never mutated by validation; the checkout flow decides what to do.
type ValidationReport struct {
	Lines []LineValidation `json:"lines"`
	OK    bool             `json:"ok"`
}
