// Package cart holds the per-session cart state machine. A Manager is owned
// by a single session goroutine: every operation runs to completion before
// the next is accepted, so the history stacks need no locking. Callers that
// serve one session from multiple goroutines must serialize access
// themselves.
package cart

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ateliergems/cartcore/internal/domain"
	"github.com/ateliergems/cartcore/internal/events"
)

// Validation errors. All are rejected synchronously with no state change.
var (
	ErrInvalidQuantity   = errors.New("quantity must be at least 1")
	ErrCartLimitExceeded = errors.New("cart size limit exceeded")
)

const (
	DefaultMaxItems     = 50
	DefaultHistoryDepth = 50
)

type historyEntry struct {
	seq   uint64
	state domain.CartState
}

// Manager is the in-memory cart state machine a shopper interacts with.
// States are immutable CartState snapshots; every mutation pushes the prior
// snapshot onto the undo stack and clears the redo stack.
type Manager struct {
	pricing      domain.Pricing
	maxItems     int
	historyDepth int
	bus          *events.Bus
	now          func() time.Time

	state domain.CartState
	undo  []historyEntry
	redo  []historyEntry
	seq   uint64
}

// Option configures a Manager.
type Option func(*Manager)

func WithMaxItems(n int) Option { return func(m *Manager) { m.maxItems = n } }

func WithHistoryDepth(n int) Option { return func(m *Manager) { m.historyDepth = n } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager creates a manager holding an empty cart.
func NewManager(pricing domain.Pricing, bus *events.Bus, opts ...Option) *Manager {
	m := &Manager{
		pricing:      pricing,
		maxItems:     DefaultMaxItems,
		historyDepth: DefaultHistoryDepth,
		bus:          bus,
		now:          time.Now,
		state:        domain.EmptyCart(pricing),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewItem is the input for AddItem.
type NewItem struct {
	ItemID    int64
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Design    *domain.DesignSpec // nil for standard catalog items
}

// AddItem validates and adds an item. An equivalent standard line already in
// the cart absorbs the quantity instead of producing a duplicate line; custom
// designs always get their own line. The unit price is captured as passed and
// never recomputed later, so a shopper's total cannot change retroactively.
func (m *Manager) AddItem(in NewItem) (domain.CartItem, error) {
	if in.Quantity < 1 {
		return domain.CartItem{}, ErrInvalidQuantity
	}
	if m.state.ItemCount()+in.Quantity > m.maxItems {
		return domain.CartItem{}, fmt.Errorf("%w: %d items max", ErrCartLimitExceeded, m.maxItems)
	}

	now := m.now()
	item := domain.CartItem{
		LineID:    uuid.New().String(),
		Kind:      domain.KindStandard,
		ItemID:    in.ItemID,
		Name:      in.Name,
		Quantity:  in.Quantity,
		UnitPrice: in.UnitPrice,
		AddedAt:   now,
		UpdatedAt: now,
	}
	if in.Design != nil {
		item.Kind = domain.KindCustomDesign
		item.ItemID = 0
		item.Design = in.Design
	}

	m.pushHistory()

	items := m.state.Clone().Items
	merged := false
	if item.Kind == domain.KindStandard {
		for i := range items {
			if items[i].EquivalentTo(item) {
				items[i].Quantity += in.Quantity
				items[i].UpdatedAt = now
				item = items[i]
				merged = true
				break
			}
		}
	}
	if !merged {
		items = append(items, item)
	}

	m.state = domain.ComputeTotals(items, m.pricing)

	summary := m.state.Summarize()
	m.bus.Publish(events.CartItemAdded{Item: item, Summary: summary})
	m.bus.Publish(events.CartUpdated{Summary: summary})
	return item, nil
}

// RemoveItem removes a line. Removing an absent line is a no-op returning
// false, not an error: double-click races from the UI are expected.
func (m *Manager) RemoveItem(lineID string) bool {
	idx := m.state.FindLine(lineID)
	if idx < 0 {
		return false
	}

	m.pushHistory()

	items := m.state.Clone().Items
	items = append(items[:idx], items[idx+1:]...)
	m.state = domain.ComputeTotals(items, m.pricing)

	summary := m.state.Summarize()
	m.bus.Publish(events.CartItemRemoved{LineID: lineID, Summary: summary})
	m.bus.Publish(events.CartUpdated{Summary: summary})
	return true
}

// UpdateQuantity replaces a line's quantity. Zero or below is equivalent to
// RemoveItem; a quantity of zero is never stored. Returns false when the
// line does not exist.
func (m *Manager) UpdateQuantity(lineID string, quantity int) (bool, error) {
	if quantity <= 0 {
		return m.RemoveItem(lineID), nil
	}

	idx := m.state.FindLine(lineID)
	if idx < 0 {
		return false, nil
	}

	current := m.state.Items[idx].Quantity
	if m.state.ItemCount()-current+quantity > m.maxItems {
		return false, fmt.Errorf("%w: %d items max", ErrCartLimitExceeded, m.maxItems)
	}

	m.pushHistory()

	items := m.state.Clone().Items
	items[idx].Quantity = quantity
	items[idx].UpdatedAt = m.now()
	m.state = domain.ComputeTotals(items, m.pricing)

	summary := m.state.Summarize()
	m.bus.Publish(events.CartItemUpdated{LineID: lineID, Summary: summary})
	m.bus.Publish(events.CartUpdated{Summary: summary})
	return true, nil
}

// Clear empties the cart as a single undoable step.
func (m *Manager) Clear() {
	m.pushHistory()
	m.state = domain.EmptyCart(m.pricing)

	summary := m.state.Summarize()
	m.bus.Publish(events.CartCleared{Summary: summary})
	m.bus.Publish(events.CartUpdated{Summary: summary})
}

// Undo moves back one step in history. A no-op (false) at the stack
// boundary, never an error.
func (m *Manager) Undo() (domain.CartState, bool) {
	if len(m.undo) == 0 {
		return m.state.Clone(), false
	}

	entry := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	m.redo = pushBounded(m.redo, historyEntry{seq: m.nextSeq(), state: m.state}, m.historyDepth)
	m.state = entry.state

	out := m.state.Clone()
	m.bus.Publish(events.CartUndone{State: out})
	m.bus.Publish(events.CartUpdated{Summary: m.state.Summarize()})
	return out, true
}

// Redo reapplies the most recently undone step. A no-op (false) at the
// stack boundary.
func (m *Manager) Redo() (domain.CartState, bool) {
	if len(m.redo) == 0 {
		return m.state.Clone(), false
	}

	entry := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.undo = pushBounded(m.undo, historyEntry{seq: m.nextSeq(), state: m.state}, m.historyDepth)
	m.state = entry.state

	out := m.state.Clone()
	m.bus.Publish(events.CartRedone{State: out})
	m.bus.Publish(events.CartUpdated{Summary: m.state.Summarize()})
	return out, true
}

// DesignMetadata carries what is needed to price a custom design at export
// time.
type DesignMetadata struct {
	Name       string
	BasePrice  decimal.Decimal
	Components []domain.DesignComponent
}

// Price is the base price plus the cost of every consumed component.
func (md DesignMetadata) Price() decimal.Decimal {
	price := md.BasePrice
	for _, c := range md.Components {
		price = price.Add(c.UnitCost.Mul(decimal.NewFromInt(int64(c.Quantity))))
	}
	return price
}

// ExportDesign wraps a design payload as a custom-design line and adds it
// through the same path as AddItem, so it participates in undo/redo like any
// other line.
func (m *Manager) ExportDesign(payload json.RawMessage, md DesignMetadata) (domain.CartItem, error) {
	return m.AddItem(NewItem{
		Name:      md.Name,
		UnitPrice: md.Price(),
		Quantity:  1,
		Design: &domain.DesignSpec{
			Payload:    payload,
			Components: md.Components,
		},
	})
}

// Summary projects the current state. No side effects.
func (m *Manager) Summary() domain.Summary {
	return m.state.Summarize()
}

// State returns a snapshot of the current cart.
func (m *Manager) State() domain.CartState {
	return m.state.Clone()
}

// Restore replaces the live state wholesale, e.g. with a merged cart after
// login. The restored state is a new baseline: both history stacks are
// cleared so undo cannot cross the merge.
func (m *Manager) Restore(state domain.CartState) {
	m.state = state.Clone()
	m.undo = nil
	m.redo = nil
}

func (m *Manager) pushHistory() {
	m.undo = pushBounded(m.undo, historyEntry{seq: m.nextSeq(), state: m.state}, m.historyDepth)
	// A divergent new action invalidates the undone future.
	m.redo = nil
}

func (m *Manager) nextSeq() uint64 {
	m.seq++
	return m.seq
}

func pushBounded(stack []historyEntry, entry historyEntry, depth int) []historyEntry {
	stack = append(stack, entry)
	if len(stack) > depth {
		stack = stack[1:]
	}
	return stack
}
