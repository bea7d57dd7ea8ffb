// Package syncer glues the cart manager to durable storage and the
// inventory ledger: debounced persistence, the login merge, validation and
// checkout reservation, and fan-out of inventory changes.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/ateliergems/cartcore/internal/cart"
	"github.com/ateliergems/cartcore/internal/domain"
	"github.com/ateliergems/cartcore/internal/events"
	"github.com/ateliergems/cartcore/internal/ledger"
	"github.com/ateliergems/cartcore/internal/store"
)

// Config tunes the coordinator. Zero values fall back to the defaults.
type Config struct {
	Debounce     time.Duration
	SaveRetries  int
	RetryBackoff time.Duration
	Pricing      domain.Pricing
	MaxItems     int
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.SaveRetries <= 0 {
		c.SaveRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.MaxItems <= 0 {
		c.MaxItems = cart.DefaultMaxItems
	}
	return c
}

// Coordinator reconciles one session's cart manager with the cart store and
// the inventory ledger. It subscribes to the session's event bus and
// persists state with a debounce, coalescing rapid successive edits into a
// single write; Close flushes whatever is still pending.
//
// A failed save never rolls back the in-memory cart: the shopper's local
// view stays authoritative until the next successful sync.
type Coordinator struct {
	mgr    *cart.Manager
	store  store.Store
	ledger ledger.Ledger
	bus    *events.Bus
	log    zerolog.Logger
	cfg    Config
	cb     *gobreaker.CircuitBreaker[any]

	mu       sync.Mutex
	identity domain.Identity
	pending  *domain.CartState
	timer    *time.Timer
	unsub    func()
}

func New(mgr *cart.Manager, id domain.Identity, st store.Store, lg ledger.Ledger, bus *events.Bus, log zerolog.Logger, cfg Config) *Coordinator {
	c := &Coordinator{
		mgr:      mgr,
		store:    st,
		ledger:   lg,
		bus:      bus,
		log:      log.With().Str("cart", id.Key()).Logger(),
		cfg:      cfg.withDefaults(),
		identity: id,
		cb: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:    "cart-store",
			Timeout: 10 * time.Second,
		}),
	}
	c.unsub = bus.Subscribe(c.onEvent)
	return c
}

// onEvent runs synchronously on the session goroutine during Publish, so
// reading the manager's state here is safe.
func (c *Coordinator) onEvent(e events.Event) {
	if _, ok := e.(events.CartUpdated); !ok {
		return
	}
	state := c.mgr.State()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = &state
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.Debounce, c.flushPending)
}

func (c *Coordinator) flushPending() {
	c.mu.Lock()
	state := c.pending
	id := c.identity
	c.pending = nil
	c.timer = nil
	c.mu.Unlock()

	if state == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.saveWithRetry(ctx, id, state); err != nil {
		// Non-fatal: local state remains authoritative, the next flush
		// retries from scratch.
		c.log.Warn().Err(err).Msg("debounced save failed")
	}
}

// Flush persists the current state immediately, cancelling any pending
// debounced write. Called on page/process exit.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
	id := c.identity
	c.mu.Unlock()

	state := c.mgr.State()
	return c.saveWithRetry(ctx, id, &state)
}

// Close detaches from the bus and attempts a final flush.
func (c *Coordinator) Close(ctx context.Context) error {
	c.unsub()
	return c.Flush(ctx)
}

// Identity returns the identity the cart is currently keyed under.
func (c *Coordinator) Identity() domain.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

func (c *Coordinator) saveWithRetry(ctx context.Context, id domain.Identity, state *domain.CartState) error {
	backoff := c.cfg.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.SaveRetries; attempt++ {
		_, err := c.cb.Execute(func() (any, error) {
			return nil, c.store.Save(ctx, id, state)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, gobreaker.ErrOpenState) {
			break // the store is down; retrying inside the trip window is pointless
		}
		if attempt < c.cfg.SaveRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}
	return fmt.Errorf("save cart %s: %w", id.Key(), lastErr)
}

// OnLogin merges the session's guest cart into the user's stored cart,
// persists the result under the user identity, deletes the guest record and
// swaps the live manager state to the merged cart.
//
// An unreadable guest cart is not fatal: the merge falls back to the user
// cart alone and the loss is logged.
func (c *Coordinator) OnLogin(ctx context.Context, userID string) error {
	c.mu.Lock()
	guestID := c.identity
	// Drop any debounced write before merging. A save scheduled pre-login
	// would otherwise fire after the identity swap and clobber the merged
	// user cart with the stale guest snapshot. The merge persists everything
	// the pending write held, so nothing is lost.
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.pending = nil
	c.mu.Unlock()

	var guestState *domain.CartState
	if guestID.IsGuest() {
		var err error
		guestState, err = c.store.Load(ctx, guestID)
		if err != nil && !errors.Is(err, store.ErrCartNotFound) {
			c.log.Warn().Err(err).Msg("guest cart unreadable, preferring user cart")
			guestState = nil
		}
	}

	userIdentity := domain.UserIdentity(userID)
	userState, err := c.store.Load(ctx, userIdentity)
	if err != nil && !errors.Is(err, store.ErrCartNotFound) {
		return fmt.Errorf("load user cart: %w", err)
	}

	// Unsynced local edits are part of the guest cart too; prefer the live
	// snapshot when it holds more than the stored one.
	if live := c.mgr.State(); len(live.Items) > 0 {
		if guestState == nil || live.ItemCount() > guestState.ItemCount() {
			guestState = &live
		}
	}

	merged := store.Merge(guestState, userState, c.cfg.Pricing, c.cfg.MaxItems)

	if err := c.saveWithRetry(ctx, userIdentity, &merged); err != nil {
		return err
	}

	if guestID.IsGuest() {
		if err := c.store.Delete(ctx, guestID); err != nil {
			c.log.Warn().Err(err).Msg("failed to delete guest cart after merge")
		}
	}

	c.mu.Lock()
	c.identity = userIdentity
	c.log = c.log.With().Str("cart", userIdentity.Key()).Logger()
	c.mu.Unlock()

	c.mgr.Restore(merged)
	c.bus.Publish(events.CartSynced{Summary: merged.Summarize()})
	return nil
}

// ValidateCart checks every line against current inventory. Standard lines
// check their catalog item; custom designs check each component they
// consume. The cart is never mutated here: the checkout flow decides
// whether to auto-adjust or block. The answer is advisory; a reserve right
// after can still fail.
func (c *Coordinator) ValidateCart(ctx context.Context, state domain.CartState) (domain.ValidationReport, error) {
	report := domain.ValidationReport{OK: true}

	reqs := reservationRequests(state)
	if len(reqs) == 0 {
		return report, nil
	}

	// One availability check per distinct item; lines then draw from a
	// shared remaining pool in cart order, so two lines wanting the same
	// item cannot both pass on the same stock. A report with every line OK
	// therefore implies the summed demand that Reserve would see fits.
	demand := make(map[int64]int32)
	var order []int64
	for _, r := range reqs {
		if _, seen := demand[r.ItemID]; !seen {
			order = append(order, r.ItemID)
		}
		demand[r.ItemID] += r.Quantity
	}
	checks := make([]domain.StockRequest, 0, len(order))
	for _, id := range order {
		checks = append(checks, domain.StockRequest{ItemID: id, Quantity: demand[id]})
	}

	avail, err := c.ledger.CheckAvailability(ctx, checks)
	if err != nil {
		return domain.ValidationReport{}, fmt.Errorf("check availability: %w", err)
	}
	remaining := make(map[int64]int32, len(avail.Lines))
	for _, a := range avail.Lines {
		remaining[a.ItemID] = a.Available
	}

	for _, it := range state.Items {
		var line domain.LineValidation
		switch it.Kind {
		case domain.KindStandard:
			line = validateStandardLine(it, remaining)
		case domain.KindCustomDesign:
			line = validateCustomLine(it, remaining)
		}
		if line.Status != domain.LineOK {
			report.OK = false
		}
		report.Lines = append(report.Lines, line)
	}

	if !report.OK {
		c.bus.Publish(events.CartValidationFailed{Report: report})
	}
	return report, nil
}

func validateStandardLine(it domain.CartItem, remaining map[int64]int32) domain.LineValidation {
	line := domain.LineValidation{LineID: it.LineID, ItemID: it.ItemID, Status: domain.LineOK}

	want := int32(it.Quantity)
	granted := remaining[it.ItemID]
	if granted > want {
		granted = want
	}
	if granted < 0 {
		granted = 0
	}
	remaining[it.ItemID] -= granted

	switch {
	case granted <= 0:
		line.Status = domain.LineUnavailable
	case granted < want:
		line.Status = domain.LineQuantityReduced
		line.Available = granted
	}
	return line
}

func validateCustomLine(it domain.CartItem, remaining map[int64]int32) domain.LineValidation {
	line := domain.LineValidation{LineID: it.LineID, Status: domain.LineOK}

	// The number of whole design units the components can still cover.
	maxUnits := int32(it.Quantity)
	for _, comp := range it.Design.Components {
		if comp.Quantity <= 0 {
			continue
		}
		if units := remaining[comp.ItemID] / comp.Quantity; units < maxUnits {
			maxUnits = units
		}
	}
	if maxUnits < 0 {
		maxUnits = 0
	}
	for _, comp := range it.Design.Components {
		remaining[comp.ItemID] -= comp.Quantity * maxUnits
	}

	switch {
	case maxUnits <= 0:
		line.Status = domain.LineUnavailable
	case maxUnits < int32(it.Quantity):
		line.Status = domain.LineQuantityReduced
		line.Available = maxUnits
	}
	return line
}

// reservationRequests flattens a cart into ledger requests: standard lines
// ask for their catalog item, custom designs for every component they
// consume.
func reservationRequests(state domain.CartState) []domain.StockRequest {
	var reqs []domain.StockRequest
	for _, it := range state.Items {
		switch it.Kind {
		case domain.KindStandard:
			reqs = append(reqs, domain.StockRequest{ItemID: it.ItemID, Quantity: int32(it.Quantity)})
		case domain.KindCustomDesign:
			for _, comp := range it.Design.Components {
				reqs = append(reqs, domain.StockRequest{
					ItemID:   comp.ItemID,
					Quantity: comp.Quantity * int32(it.Quantity),
				})
			}
		}
	}
	return reqs
}

// ReserveForCheckout reserves every line atomically. On shortfall the result
// lists what was missing, nothing was reserved, and the manager state is
// untouched so the shopper can adjust and retry. Shortfalls are terminal for
// the attempt and never retried blindly: retrying would not change
// availability.
func (c *Coordinator) ReserveForCheckout(ctx context.Context, state domain.CartState) (domain.ReservationResult, error) {
	reqs := reservationRequests(state)
	if len(reqs) == 0 {
		return domain.ReservationResult{OK: true}, nil
	}

	err := c.ledger.Reserve(ctx, reqs)
	if err == nil {
		return domain.ReservationResult{OK: true}, nil
	}

	var insufficient *ledger.InsufficientInventoryError
	if errors.As(err, &insufficient) {
		c.log.Info().Int("items", len(insufficient.Shortfalls)).Msg("checkout reservation fell short")
		return domain.ReservationResult{OK: false, Shortfalls: insufficient.Shortfalls}, nil
	}
	return domain.ReservationResult{}, fmt.Errorf("reserve for checkout: %w", err)
}

// ReleaseReservation returns a checkout hold to the pool, e.g. when payment
// is abandoned. Idempotent like the ledger release underneath.
func (c *Coordinator) ReleaseReservation(ctx context.Context, state domain.CartState) error {
	reqs := reservationRequests(state)
	if len(reqs) == 0 {
		return nil
	}
	if err := c.ledger.Release(ctx, reqs); err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}
	return nil
}
