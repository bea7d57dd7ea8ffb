package events

import "github.com/ateliergems/cartcore/internal/domain"

// Type names one of the closed set of events this subsystem publishes.
type Type string

const (
	TypeCartUpdated          Type = "cart.updated"
	TypeCartItemAdded        Type = "cart.item_added"
	TypeCartItemRemoved      Type = "cart.item_removed"
	TypeCartItemUpdated      Type = "cart.item_updated"
	TypeCartCleared          Type = "cart.cleared"
	TypeCartUndone           Type = "cart.undone"
	TypeCartRedone           Type = "cart.redone"
	TypeCartSynced           Type = "cart.synced"
	TypeCartValidationFailed Type = "cart.validation_failed"
	TypeInventoryUpdated     Type = "inventory.updated"
)

// Event is implemented by every payload in the closed set below. UI
// collaborators are consumers only; nothing outside this module publishes.
type Event interface {
	EventType() Type
}

type CartUpdated struct {
	Summary domain.Summary
}

type CartItemAdded struct {
	Item    domain.CartItem
	Summary domain.Summary
}

type CartItemRemoved struct {
	LineID  string
	Summary domain.Summary
}

type CartItemUpdated struct {
	LineID  string
	Summary domain.Summary
}

type CartCleared struct {
	Summary domain.Summary
}

type CartUndone struct {
	State domain.CartState
}

type CartRedone struct {
	State domain.CartState
}

type CartSynced struct {
	Summary domain.Summary
}

type CartValidationFailed struct {
	Report domain.ValidationReport
}

type InventoryUpdated struct {
	Change domain.StockChange
}

func (CartUpdated) EventType() Type          { return TypeCartUpdated }
func (CartItemAdded) EventType() Type        { return TypeCartItemAdded }
func (CartItemRemoved) EventType() Type      { return TypeCartItemRemoved }
func (CartItemUpdated) EventType() Type      { return TypeCartItemUpdated }
func (CartCleared) EventType() Type          { return TypeCartCleared }
func (CartUndone) EventType() Type           { return TypeCartUndone }
func (CartRedone) EventType() Type           { return TypeCartRedone }
func (CartSynced) EventType() Type           { return TypeCartSynced }
func (CartValidationFailed) EventType() Type { return TypeCartValidationFailed }
func (InventoryUpdated) EventType() Type     { return TypeInventoryUpdated }
