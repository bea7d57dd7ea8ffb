package ledger

import (
	"context"
	"sync"

	"github.com/ateliergems/cartcore/internal/domain"
)

// MemoryLedger implements Ledger with in-memory storage. It is the default
// backend for tests and single-process deployments; the mutex gives the same
// all-or-nothing reserve semantics the Postgres backend gets from a
// transaction.
type MemoryLedger struct {
	mu         sync.RWMutex
	records    map[int64]*domain.InventoryRecord
	lowStockAt int32

	watchMu  sync.RWMutex
	watchers map[int]func(domain.StockChange)
	nextID   int
}

func NewMemoryLedger(lowStockAt int32) *MemoryLedger {
	return &MemoryLedger{
		records:    make(map[int64]*domain.InventoryRecord),
		lowStockAt: lowStockAt,
		watchers:   make(map[int]func(domain.StockChange)),
	}
}

// Watch registers a callback for stock changes and returns the handle that
// removes it. Callbacks run on the mutating goroutine after the lock is
// dropped.
func (l *MemoryLedger) Watch(fn func(domain.StockChange)) (unwatch func()) {
	l.watchMu.Lock()
	id := l.nextID
	l.nextID++
	l.watchers[id] = fn
	l.watchMu.Unlock()

	return func() {
		l.watchMu.Lock()
		delete(l.watchers, id)
		l.watchMu.Unlock()
	}
}

func (l *MemoryLedger) notify(changes []domain.StockChange) {
	if len(changes) == 0 {
		return
	}
	l.watchMu.RLock()
	fns := make([]func(domain.StockChange), 0, len(l.watchers))
	for _, fn := range l.watchers {
		fns = append(fns, fn)
	}
	l.watchMu.RUnlock()

	for _, ch := range changes {
		for _, fn := range fns {
			fn(ch)
		}
	}
}

func (l *MemoryLedger) CheckAvailability(_ context.Context, reqs []domain.StockRequest) (domain.AvailabilityReport, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	report := domain.AvailabilityReport{OK: true, Lines: make([]domain.Availability, 0, len(reqs))}
	for _, r := range reqs {
		var avail int32
		if rec, exists := l.records[r.ItemID]; exists {
			avail = rec.Available()
		}
		ok := avail >= r.Quantity
		if !ok {
			report.OK = false
		}
		report.Lines = append(report.Lines, domain.Availability{
			ItemID:    r.ItemID,
			Requested: r.Quantity,
			Available: avail,
			OK:        ok,
		})
	}
	return report, nil
}

func (l *MemoryLedger) Reserve(_ context.Context, reqs []domain.StockRequest) error {
	reqs = sumRequests(reqs)

	l.mu.Lock()

	// First pass: find every shortfall before touching anything, so a failed
	// batch leaves no partial reservation behind.
	var shortfalls []domain.Shortfall
	for _, r := range reqs {
		var avail int32
		if rec, exists := l.records[r.ItemID]; exists {
			avail = rec.Available()
		}
		if avail < r.Quantity {
			shortfalls = append(shortfalls, domain.Shortfall{
				ItemID:    r.ItemID,
				Requested: r.Quantity,
				Available: avail,
				Shortfall: r.Quantity - avail,
			})
		}
	}
	if len(shortfalls) > 0 {
		l.mu.Unlock()
		return &InsufficientInventoryError{Shortfalls: shortfalls}
	}

	// Second pass: grant the whole batch.
	changes := make([]domain.StockChange, 0, len(reqs))
	for _, r := range reqs {
		rec := l.records[r.ItemID]
		rec.Reserved += r.Quantity
		changes = append(changes, l.changeFor(rec))
	}
	l.mu.Unlock()

	l.notify(changes)
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, reqs []domain.StockRequest) error {
	reqs = sumRequests(reqs)

	l.mu.Lock()
	changes := make([]domain.StockChange, 0, len(reqs))
	for _, r := range reqs {
		rec, exists := l.records[r.ItemID]
		if !exists {
			continue
		}
		rec.Reserved -= r.Quantity
		if rec.Reserved < 0 {
			rec.Reserved = 0
		}
		changes = append(changes, l.changeFor(rec))
	}
	l.mu.Unlock()

	l.notify(changes)
	return nil
}

func (l *MemoryLedger) SetOnHand(_ context.Context, itemID int64, quantity int32) error {
	l.mu.Lock()
	rec, exists := l.records[itemID]
	if !exists {
		rec = &domain.InventoryRecord{ItemID: itemID}
		l.records[itemID] = rec
	}
	rec.OnHand = quantity
	change := l.changeFor(rec)
	l.mu.Unlock()

	l.notify([]domain.StockChange{change})
	return nil
}

func (l *MemoryLedger) GetRecords(_ context.Context, itemIDs []int64) ([]domain.InventoryRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.InventoryRecord, 0, len(itemIDs))
	for _, id := range itemIDs {
		if rec, exists := l.records[id]; exists {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (l *MemoryLedger) changeFor(rec *domain.InventoryRecord) domain.StockChange {
	return domain.StockChange{
		ItemID:   rec.ItemID,
		OnHand:   rec.OnHand,
		Reserved: rec.Reserved,
		Status:   rec.Status(l.lowStockAt),
	}
}
