package syncer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ateliergems/cartcore/internal/store"
)

// Sweeper runs the periodic storage hygiene passes: purging expired guest
// carts and surfacing abandoned user carts for recovery workflows. It only
// touches cart storage, never the inventory ledger, so it is safe to run
// concurrently with live reservations.
type Sweeper struct {
	store          store.Store
	log            zerolog.Logger
	interval       time.Duration
	abandonedAfter time.Duration
}

func NewSweeper(st store.Store, log zerolog.Logger, interval, abandonedAfter time.Duration) *Sweeper {
	return &Sweeper{
		store:          st,
		log:            log,
		interval:       interval,
		abandonedAfter: abandonedAfter,
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	purged, err := s.store.PurgeExpiredGuests(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to purge expired guest carts")
	} else if purged > 0 {
		s.log.Info().Int("purged", purged).Msg("purged expired guest carts")
	}

	abandoned, err := s.store.ListAbandoned(ctx, s.abandonedAfter)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to list abandoned carts")
		return
	}
	for _, summary := range abandoned {
		s.log.Info().
			Str("user_id", summary.UserID).
			Int("item_count", summary.ItemCount).
			Str("total_value", summary.TotalValue.String()).
			Time("last_updated", summary.LastUpdated).
			Msg("abandoned cart")
	}
}
