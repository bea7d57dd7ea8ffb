package domain

import "github.com/shopspring/decimal"

// Pricing holds the configured rates and thresholds the totals are derived
// from. Tax and shipping are pure functions of the subtotal and this struct;
// there is no hidden pricing state.
type Pricing struct {
	TaxRate        decimal.Decimal `json:"tax_rate"`
	FlatShipping   decimal.Decimal `json:"flat_shipping"`
	FreeShippingAt decimal.Decimal `json:"free_shipping_at"`
	Discount       decimal.Decimal `json:"discount"`
}

// DefaultPricing returns the storefront defaults.
func DefaultPricing() Pricing {
	return Pricing{
		TaxRate:        decimal.RequireFromString("0.0875"),
		FlatShipping:   decimal.RequireFromString("12.00"),
		FreeShippingAt: decimal.RequireFromString("150.00"),
		Discount:       decimal.Zero,
	}
}

// CartState is an immutable snapshot of a cart: the ordered item list
// (insertion order is display order) plus totals derived from it.
// It is never updated in place; mutations build a new snapshot.
type CartState struct {
	Items    []CartItem      `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// ComputeTotals builds a CartState from an item list, recomputing every
// derived field. total = subtotal + tax + shipping - discount, always.
func ComputeTotals(items []CartItem, p Pricing) CartState {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}

	tax := subtotal.Mul(p.TaxRate).Round(2)

	shipping := decimal.Zero
	if len(items) > 0 && subtotal.LessThan(p.FreeShippingAt) {
		shipping = p.FlatShipping
	}

	discount := p.Discount
	if len(items) == 0 {
		discount = decimal.Zero
	}

	return CartState{
		Items:    items,
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Discount: discount,
		Total:    subtotal.Add(tax).Add(shipping).Sub(discount),
	}
}

// EmptyCart returns the initial state for a new session.
func EmptyCart(p Pricing) CartState {
	return ComputeTotals(nil, p)
}

// Clone deep-copies the snapshot so callers can hold it without aliasing
// the manager's current state.
func (s CartState) Clone() CartState {
	out := s
	if s.Items != nil {
		out.Items = make([]CartItem, len(s.Items))
		for i, it := range s.Items {
			out.Items[i] = it.clone()
		}
	}
	return out
}

// ItemCount is the total number of units across all lines.
func (s CartState) ItemCount() int {
	n := 0
	for _, it := range s.Items {
		n += it.Quantity
	}
	return n
}

// FindLine returns the index of the line with the given ID, or -1.
func (s CartState) FindLine(lineID string) int {
	for i, it := range s.Items {
		if it.LineID == lineID {
			return i
		}
	}
	return -1
}

// Summary is the projection exposed to the checkout flow and UI badges.
type Summary struct {
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
}

// Summarize projects the snapshot into a Summary. No side effects.
func (s CartState) Summarize() Summary {
	return Summary{
		ItemCount: s.ItemCount(),
		Subtotal:  s.Subtotal,
		Tax:       s.Tax,
		Shipping:  s.Shipping,
		Total:     s.Total,
	}
}
