package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ateliergems/cartcore/internal/cart"
	"github.com/ateliergems/cartcore/internal/domain"
	"github.com/ateliergems/cartcore/internal/events"
	"github.com/ateliergems/cartcore/internal/ledger"
	"github.com/ateliergems/cartcore/internal/store"
)

// flakyStore wraps a MemoryStore and fails the first failSaves saves.
type flakyStore struct {
	store.Store
	mu        sync.Mutex
	failSaves int
	saves     int
}

func (f *flakyStore) Save(ctx context.Context, id domain.Identity, state *domain.CartState) error {
	f.mu.Lock()
	f.saves++
	fail := f.saves <= f.failSaves
	f.mu.Unlock()
	if fail {
		return errors.New("store unreachable")
	}
	return f.Store.Save(ctx, id, state)
}

func (f *flakyStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

type fixture struct {
	bus    *events.Bus
	mgr    *cart.Manager
	store  *flakyStore
	ledger *ledger.MemoryLedger
	coord  *Coordinator
}

func setup(t *testing.T, id domain.Identity, cfg Config) *fixture {
	t.Helper()
	bus := events.NewBus()
	mgr := cart.NewManager(domain.DefaultPricing(), bus)
	st := &flakyStore{Store: store.NewMemoryStore(7 * 24 * time.Hour)}
	lg := ledger.NewMemoryLedger(domain.DefaultLowStockThreshold)
	cfg.Pricing = domain.DefaultPricing()
	coord := New(mgr, id, st, lg, bus, zerolog.Nop(), cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		coord.Close(ctx)
	})
	return &fixture{bus: bus, mgr: mgr, store: st, ledger: lg, coord: coord}
}

func price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDebouncedSave_CoalescesRapidEdits(t *testing.T) {
	f := setup(t, domain.GuestIdentity("sess-1"), Config{Debounce: 50 * time.Millisecond})

	for i := 0; i < 5; i++ {
		_, err := f.mgr.AddItem(cart.NewItem{ItemID: int64(i + 1), UnitPrice: price("10.00"), Quantity: 1})
		require.NoError(t, err)
	}

	// Within the debounce window nothing has been written yet.
	assert.Equal(t, 0, f.store.saveCount())

	require.Eventually(t, func() bool {
		return f.store.saveCount() == 1
	}, time.Second, 10*time.Millisecond, "five rapid edits coalesce into one write")

	state, err := f.store.Load(context.Background(), domain.GuestIdentity("sess-1"))
	require.NoError(t, err)
	assert.Len(t, state.Items, 5)
}

func TestFlush_WritesImmediately(t *testing.T) {
	f := setup(t, domain.GuestIdentity("sess-2"), Config{Debounce: time.Hour})

	_, err := f.mgr.AddItem(cart.NewItem{ItemID: 1, UnitPrice: price("10.00"), Quantity: 2})
	require.NoError(t, err)

	require.NoError(t, f.coord.Flush(context.Background()))

	state, err := f.store.Load(context.Background(), domain.GuestIdentity("sess-2"))
	require.NoError(t, err)
	assert.Len(t, state.Items, 1)
}

func TestSave_RetriesWithBackoff(t *testing.T) {
	f := setup(t, domain.GuestIdentity("sess-3"), Config{
		Debounce:     time.Hour,
		SaveRetries:  3,
		RetryBackoff: time.Millisecond,
	})
	f.store.failSaves = 2

	_, err := f.mgr.AddItem(cart.NewItem{ItemID: 1, UnitPrice: price("10.00"), Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, f.coord.Flush(context.Background()))
	assert.Equal(t, 3, f.store.saveCount(), "two failures then one success")
}

func TestSaveFailure_LocalStateStaysAuthoritative(t *testing.T) {
	f := setup(t, domain.GuestIdentity("sess-4"), Config{
		Debounce:     time.Hour,
		SaveRetries:  2,
		RetryBackoff: time.Millisecond,
	})
	f.store.failSaves = 100

	_, err := f.mgr.AddItem(cart.NewItem{ItemID: 1, UnitPrice: price("10.00"), Quantity: 3})
	require.NoError(t, err)

	err = f.coord.Flush(context.Background())
	require.Error(t, err)

	// The failed save must not have touched the in-memory cart.
	assert.Equal(t, 3, f.mgr.State().ItemCount())
}

func TestOnLogin_MergesGuestIntoUserCart(t *testing.T) {
	ctx := context.Background()
	guestID := domain.GuestIdentity("sess-5")
	f := setup(t, guestID, Config{Debounce: time.Hour})

	// Pre-existing user cart with 3 units of item 1.
	userID := domain.UserIdentity("u1")
	userState := domain.ComputeTotals([]domain.CartItem{{
		LineID: "user-line", Kind: domain.KindStandard, ItemID: 1,
		Quantity: 3, UnitPrice: price("10.00"),
	}}, domain.DefaultPricing())
	require.NoError(t, f.store.Store.Save(ctx, userID, &userState))

	// Guest adds 2 units of the same item.
	_, err := f.mgr.AddItem(cart.NewItem{ItemID: 1, UnitPrice: price("10.00"), Quantity: 2})
	require.NoError(t, err)
	require.NoError(t, f.coord.Flush(ctx))

	var synced []events.Event
	unsub := f.bus.Subscribe(func(e events.Event) {
		if _, ok := e.(events.CartSynced); ok {
			synced = append(synced, e)
		}
	})
	defer unsub()

	require.NoError(t, f.coord.OnLogin(ctx, "u1"))

	// Exactly one line with 5 units, never two lines.
	state := f.mgr.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, 5, state.Items[0].Quantity)

	// Merged cart stored under the user, guest record gone.
	stored, err := f.store.Load(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.ItemCount())
	_, err = f.store.Load(ctx, guestID)
	assert.ErrorIs(t, err, store.ErrCartNotFound)

	assert.Equal(t, userID, f.coord.Identity())
	assert.Len(t, synced, 1)

	// The merge is a new baseline: undo must not cross it.
	_, ok := f.mgr.Undo()
	assert.False(t, ok)
}

func TestOnLogin_NoUserCart(t *testing.T) {
	ctx := context.Background()
	f := setup(t, domain.GuestIdentity("sess-6"), Config{Debounce: time.Hour})

	_, err := f.mgr.AddItem(cart.NewItem{ItemID: 2, UnitPrice: price("8.00"), Quantity: 1})
	require.NoError(t, err)

	require.NoError(t, f.coord.OnLogin(ctx, "fresh-user"))

	state := f.mgr.State()
	require.Len(t, state.Items, 1)
	assert.Equal(t, int64(2), state.Items[0].ItemID)
}

func TestOnLogin_CancelsPendingDebouncedSave(t *testing.T) {
	ctx := context.Background()
	guestID := domain.GuestIdentity("sess-10")
	f := setup(t, guestID, Config{Debounce: 150 * time.Millisecond})

	userID := domain.UserIdentity("u2")
	userState := domain.ComputeTotals([]domain.CartItem{{
		LineID: "user-line", Kind: domain.KindStandard, ItemID: 1,
		Quantity: 3, UnitPrice: price("10.00"),
	}}, domain.DefaultPricing())
	require.NoError(t, f.store.Store.Save(ctx, userID, &userState))

	// The edit arms a debounced save; logging in before it fires must not
	// let the stale guest snapshot overwrite the merged user cart.
	_, err := f.mgr.AddItem(cart.NewItem{ItemID: 1, UnitPrice: price("10.00"), Quantity: 2})
	require.NoError(t, err)
	require.NoError(t, f.coord.OnLogin(ctx, "u2"))

	stored, err := f.store.Load(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.ItemCount())

	// Wait past the debounce window: the merged cart must survive.
	time.Sleep(400 * time.Millisecond)
	stored, err = f.store.Load(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.ItemCount())
	_, err = f.store.Load(ctx, guestID)
	assert.ErrorIs(t, err, store.ErrCartNotFound)
}

func TestValidateCart(t *testing.T) {
	ctx := context.Background()
	f := setup(t, domain.GuestIdentity("sess-7"), Config{Debounce: time.Hour})

	require.NoError(t, f.ledger.SetOnHand(ctx, 1, 10))
	require.NoError(t, f.ledger.SetOnHand(ctx, 2, 1))
	require.NoError(t, f.ledger.SetOnHand(ctx, 42, 1))
	// Item 3 unknown: unavailable.

	state := domain.ComputeTotals([]domain.CartItem{
		{LineID: "l1", Kind: domain.KindStandard, ItemID: 1, Quantity: 2, UnitPrice: price("10.00")},
		{LineID: "l2", Kind: domain.KindStandard, ItemID: 2, Quantity: 3, UnitPrice: price("5.00")},
		{LineID: "l3", Kind: domain.KindStandard, ItemID: 3, Quantity: 1, UnitPrice: price("2.00")},
		{LineID: "l4", Kind: domain.KindCustomDesign, Quantity: 1, UnitPrice: price("99.00"),
			Design: &domain.DesignSpec{
				Payload:    json.RawMessage(`{}`),
				Components: []domain.DesignComponent{{ItemID: 42, Quantity: 2, UnitCost: price("3.00")}},
			}},
	}, domain.DefaultPricing())

	var failures []events.CartValidationFailed
	unsub := f.bus.Subscribe(func(e events.Event) {
		if ev, ok := e.(events.CartValidationFailed); ok {
			failures = append(failures, ev)
		}
	})
	defer unsub()

	report, err := f.coord.ValidateCart(ctx, state)
	require.NoError(t, err)

	assert.False(t, report.OK)
	require.Len(t, report.Lines, 4)

	assert.Equal(t, domain.LineOK, report.Lines[0].Status)

	assert.Equal(t, domain.LineQuantityReduced, report.Lines[1].Status)
	assert.Equal(t, int32(1), report.Lines[1].Available)

	assert.Equal(t, domain.LineUnavailable, report.Lines[2].Status)

	// Design needs 2 units of component 42 but only 1 is on hand.
	assert.Equal(t, domain.LineUnavailable, report.Lines[3].Status)

	require.Len(t, failures, 1)

	// Validation never mutates the ledger.
	recs, err := f.ledger.GetRecords(ctx, []int64{1, 2, 42})
	require.NoError(t, err)
	for _, rec := range recs {
		assert.Equal(t, int32(0), rec.Reserved)
	}
}

func TestValidateCart_SumsDemandAcrossLines(t *testing.T) {
	ctx := context.Background()
	f := setup(t, domain.GuestIdentity("sess-11"), Config{Debounce: time.Hour})

	require.NoError(t, f.ledger.SetOnHand(ctx, 1, 3))

	// Both lines want item 1: 2 directly plus 2 inside the design. Each
	// fits on its own, but together they need 4 of the 3 on hand.
	state := domain.ComputeTotals([]domain.CartItem{
		{LineID: "l1", Kind: domain.KindStandard, ItemID: 1, Quantity: 2, UnitPrice: price("10.00")},
		{LineID: "l2", Kind: domain.KindCustomDesign, Quantity: 1, UnitPrice: price("30.00"),
			Design: &domain.DesignSpec{
				Payload:    json.RawMessage(`{}`),
				Components: []domain.DesignComponent{{ItemID: 1, Quantity: 2, UnitCost: price("3.00")}},
			}},
	}, domain.DefaultPricing())

	report, err := f.coord.ValidateCart(ctx, state)
	require.NoError(t, err)

	assert.False(t, report.OK, "combined demand exceeds the stock")
	require.Len(t, report.Lines, 2)
	assert.Equal(t, domain.LineOK, report.Lines[0].Status)
	assert.Equal(t, domain.LineUnavailable, report.Lines[1].Status)

	// The reservation the validation predicts must agree with it.
	result, err := f.coord.ReserveForCheckout(ctx, state)
	require.NoError(t, err)
	assert.False(t, result.OK)
}

func TestReserveForCheckout_ShortfallLeavesCartUntouched(t *testing.T) {
	ctx := context.Background()
	f := setup(t, domain.GuestIdentity("sess-8"), Config{Debounce: time.Hour})

	require.NoError(t, f.ledger.SetOnHand(ctx, 1, 1))

	_, err := f.mgr.AddItem(cart.NewItem{ItemID: 1, UnitPrice: price("10.00"), Quantity: 2})
	require.NoError(t, err)

	result, err := f.coord.ReserveForCheckout(ctx, f.mgr.State())
	require.NoError(t, err, "a shortfall is a normal outcome, not an error")
	assert.False(t, result.OK)
	require.Len(t, result.Shortfalls, 1)
	assert.Equal(t, int32(1), result.Shortfalls[0].Shortfall)

	// Cart untouched, nothing reserved.
	assert.Equal(t, 2, f.mgr.State().ItemCount())
	recs, err := f.ledger.GetRecords(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, int32(0), recs[0].Reserved)
}

func TestReserveForCheckout_SuccessAndRelease(t *testing.T) {
	ctx := context.Background()
	f := setup(t, domain.GuestIdentity("sess-9"), Config{Debounce: time.Hour})

	require.NoError(t, f.ledger.SetOnHand(ctx, 1, 5))
	require.NoError(t, f.ledger.SetOnHand(ctx, 42, 4))

	_, err := f.mgr.AddItem(cart.NewItem{ItemID: 1, UnitPrice: price("10.00"), Quantity: 2})
	require.NoError(t, err)
	_, err = f.mgr.ExportDesign(json.RawMessage(`{}`), cart.DesignMetadata{
		Name:      "bracelet",
		BasePrice: price("50.00"),
		Components: []domain.DesignComponent{
			{ItemID: 42, Quantity: 2, UnitCost: price("4.00")},
		},
	})
	require.NoError(t, err)

	state := f.mgr.State()
	result, err := f.coord.ReserveForCheckout(ctx, state)
	require.NoError(t, err)
	assert.True(t, result.OK)

	recs, err := f.ledger.GetRecords(ctx, []int64{1, 42})
	require.NoError(t, err)
	assert.Equal(t, int32(2), recs[0].Reserved)
	assert.Equal(t, int32(2), recs[1].Reserved, "design components are reserved too")

	require.NoError(t, f.coord.ReleaseReservation(ctx, state))
	recs, err = f.ledger.GetRecords(ctx, []int64{1, 42})
	require.NoError(t, err)
	assert.Equal(t, int32(0), recs[0].Reserved)
	assert.Equal(t, int32(0), recs[1].Reserved)
}

func TestInventoryConsumer_HandleMessage(t *testing.T) {
	bus := events.NewBus()
	var got []events.InventoryUpdated
	unsub := bus.Subscribe(func(e events.Event) {
		if ev, ok := e.(events.InventoryUpdated); ok {
			got = append(got, ev)
		}
	})
	defer unsub()

	c := &InventoryConsumer{publisher: bus, lowStockAt: 5, log: zerolog.Nop()}

	require.NoError(t, c.handleMessage([]byte(`{"item_id":7,"quantity":10,"reserved_quantity":6}`)))
	require.Len(t, got, 1)
	assert.Equal(t, int64(7), got[0].Change.ItemID)
	assert.Equal(t, domain.StatusLowStock, got[0].Change.Status)

	assert.Error(t, c.handleMessage([]byte(`not json`)))
	assert.Len(t, got, 1)
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(time.Millisecond)
	require.NoError(t, st.Save(ctx, domain.GuestIdentity("g1"), stateWith(t, 1)))
	time.Sleep(5 * time.Millisecond)

	s := NewSweeper(st, zerolog.Nop(), time.Hour, 30*24*time.Hour)
	s.sweep(ctx)

	_, err := st.Load(ctx, domain.GuestIdentity("g1"))
	assert.ErrorIs(t, err, store.ErrCartNotFound)
}

func stateWith(t *testing.T, itemID int64) *domain.CartState {
	t.Helper()
	s := domain.ComputeTotals([]domain.CartItem{{
		LineID: "l", Kind: domain.KindStandard, ItemID: itemID,
		Quantity: 1, UnitPrice: price("10.00"),
	}}, domain.DefaultPricing())
	return &s
}
