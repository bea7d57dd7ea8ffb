package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ItemKind distinguishes catalog items from one-off custom designs.
// The set is closed; code processing cart items switches on it exhaustively.
type ItemKind string

const (
	KindStandard     ItemKind = "standard"
	KindCustomDesign ItemKind = "custom_design"
)

// DesignComponent is one catalog item consumed by a custom design.
type DesignComponent struct {
	ItemID   int64           `json:"item_id"`
	Quantity int32           `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

// DesignSpec is the payload embedded in a custom design line. The payload
// itself is opaque to this subsystem; only the component list is inspected
// (for inventory validation of the parts the design consumes).
type DesignSpec struct {
	Payload    json.RawMessage   `json:"payload"`
	Components []DesignComponent `json:"components"`
}

// CartItem is one line in a cart. ItemID references a catalog entry and is
// zero for custom designs, which carry a DesignSpec instead.
type CartItem struct {
	LineID    string          `json:"line_id"`
	Kind      ItemKind        `json:"kind"`
	ItemID    int64           `json:"item_id,omitempty"`
	Name      string          `json:"name"`
	Design    *DesignSpec     `json:"design,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	AddedAt   time.Time       `json:"added_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EquivalentTo reports whether two lines reference the same catalog entry.
// Custom designs are never equivalent to anything, including themselves.
func (i CartItem) EquivalentTo(other CartItem) bool {
	return i.Kind == KindStandard && other.Kind == KindStandard && i.ItemID == other.ItemID
}

// LineTotal returns unit price times quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i CartItem) clone() CartItem {
	out := i
	if i.Design != nil {
		d := DesignSpec{
			Payload:    append(json.RawMessage(nil), i.Design.Payload...),
			Components: append([]DesignComponent(nil), i.Design.Components...),
		}
		out.Design = &d
	}
	return out
}
