// Package httpapi exposes the cart over HTTP. Each session gets its own
// manager, event bus and sync coordinator; the registry owns them all.
package httpapi

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ateliergems/cartcore/internal/cart"
	"github.com/ateliergems/cartcore/internal/domain"
	"github.com/ateliergems/cartcore/internal/events"
	"github.com/ateliergems/cartcore/internal/ledger"
	"github.com/ateliergems/cartcore/internal/store"
	"github.com/ateliergems/cartcore/internal/syncer"
)

// Session bundles one shopper's cart machinery. The mutex serializes all
// access to the manager, which is not safe for concurrent use on its own.
type Session struct {
	mu    sync.Mutex
	bus   *events.Bus
	mgr   *cart.Manager
	coord *syncer.Coordinator
}

// Do runs fn with exclusive access to the session's manager and coordinator.
func (s *Session) Do(fn func(mgr *cart.Manager, coord *syncer.Coordinator)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.mgr, s.coord)
}

// RegistryConfig carries the shared backends every session is built on.
type RegistryConfig struct {
	Store        store.Store
	Ledger       ledger.Ledger
	Log          zerolog.Logger
	Pricing      domain.Pricing
	MaxItems     int
	HistoryDepth int
	Sync         syncer.Config
}

// Registry creates and tracks sessions. It also implements
// syncer.Publisher: inventory changes published here fan out to every live
// session's bus.
type Registry struct {
	cfg RegistryConfig

	mu       sync.RWMutex
	sessions map[string]*Session

	fanout    chan events.Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = cart.DefaultMaxItems
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = cart.DefaultHistoryDepth
	}
	cfg.Sync.Pricing = cfg.Pricing
	cfg.Sync.MaxItems = cfg.MaxItems
	r := &Registry{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		fanout:   make(chan events.Event, 64),
		done:     make(chan struct{}),
	}
	go r.fanoutLoop()
	return r
}

// Session returns the session for the given ID, creating it on first use.
// A new session starts as a guest cart and restores any stored state.
func (r *Registry) Session(ctx context.Context, sessionID string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.sessions[sessionID]; ok {
		return s
	}

	id := domain.GuestIdentity(sessionID)
	bus := events.NewBus()
	mgr := cart.NewManager(r.cfg.Pricing, bus,
		cart.WithMaxItems(r.cfg.MaxItems),
		cart.WithHistoryDepth(r.cfg.HistoryDepth),
	)

	if state, err := r.cfg.Store.Load(ctx, id); err == nil {
		mgr.Restore(*state)
	} else if !errors.Is(err, store.ErrCartNotFound) {
		r.cfg.Log.Warn().Err(err).Str("session", sessionID).Msg("failed to load stored cart, starting empty")
	}

	s = &Session{
		bus:   bus,
		mgr:   mgr,
		coord: syncer.New(mgr, id, r.cfg.Store, r.cfg.Ledger, bus, r.cfg.Log, r.cfg.Sync),
	}
	r.sessions[sessionID] = s
	return s
}

// Publish queues an event for delivery to every live session. Delivery
// happens on the registry's fan-out goroutine, never on the caller's: a
// ledger watcher fires while the triggering session still holds its own
// mutex, so publishing inline would re-enter that mutex and deadlock.
func (r *Registry) Publish(e events.Event) {
	select {
	case r.fanout <- e:
	default:
		// Full queue: drop rather than block. Inventory updates are
		// advisory; the next one carries the current counts anyway.
	}
}

func (r *Registry) fanoutLoop() {
	for {
		select {
		case e := <-r.fanout:
			r.broadcast(e)
		case <-r.done:
			return
		}
	}
}

func (r *Registry) broadcast(e events.Event) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.bus.Publish(e)
		s.mu.Unlock()
	}
}

// PublishStockChange adapts a ledger stock change into the event every
// session bus understands.
func (r *Registry) PublishStockChange(ch domain.StockChange) {
	r.Publish(events.InventoryUpdated{Change: ch})
}

// CloseAll stops the fan-out and flushes every session's pending state.
// Called on shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.closeOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for id, s := range sessions {
		s.mu.Lock()
		if err := s.coord.Close(ctx); err != nil {
			r.cfg.Log.Warn().Err(err).Str("session", id).Msg("failed to flush session on shutdown")
		}
		s.mu.Unlock()
	}
}
