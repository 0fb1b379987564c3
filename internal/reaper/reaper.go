package reaper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/gavelhouse/gavel/internal/store"
	"github.com/gavelhouse/gavel/internal/wire"
)

// Run cleanup once a minute against the default 5s tick.
const ticksPerCleanup = 12

// Storage is the slice of the store adapter the reaper needs.
type Storage interface {
	EndExpiredAuctions(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	PickWinners(ctx context.Context, ids []uuid.UUID) ([]store.EndedAuction, error)
	CleanupExpiredRevocations(ctx context.Context, now time.Time) (int64, error)
}

// Broadcaster pushes end-of-auction notifications into the room registry.
type Broadcaster interface {
	Broadcast(auctionID uuid.UUID, event wire.Event)
}

// Reaper is the clock-driven background task that terminates expired
// auctions and elects winners. Multiple replicas may run one each: every
// mutation guards on status, so the sweep is idempotent.
type Reaper struct {
	store Storage
	rooms Broadcaster
	clock clockwork.Clock
	tick  time.Duration
}

// New creates a reaper waking every tick.
func New(storage Storage, rooms Broadcaster, clock clockwork.Clock, tick time.Duration) *Reaper {
	return &Reaper{store: storage, rooms: rooms, clock: clock, tick: tick}
}

// Run blocks until ctx is cancelled, sweeping once per tick. A failed sweep
// is logged and retried on the next tick; nothing is lost because the sweep
// reads its work from auction state, not from a queue.
func (r *Reaper) Run(ctx context.Context) {
	log.Info().Dur("tick", r.tick).Msg("expiry reaper started")

	ticker := r.clock.NewTicker(r.tick)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("expiry reaper shutting down")
			return
		case <-ticker.Chan():
			r.Sweep(ctx)

			ticks++
			if ticks%ticksPerCleanup == 0 {
				r.cleanupRevocations(ctx)
			}
		}
	}
}

// Sweep ends every auction past its close, elects winners, and notifies the
// rooms. Safe to call concurrently with other replicas: the status guard in
// the end-update is the single serialization point.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.clock.Now()

	ended, err := r.store.EndExpiredAuctions(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to end expired auctions, will retry next tick")
		return
	}
	if len(ended) == 0 {
		return
	}

	results, err := r.store.PickWinners(ctx, ended)
	if err != nil {
		// Election guards on a null winner column, so re-running it for the
		// same auctions is safe. Broadcast whatever completed.
		log.Error().Err(err).Msg("winner election incomplete")
	}

	for _, auction := range results {
		ev := wire.MustEvent(wire.EventTypeAuctionEnded, wire.AuctionEndedNotificationPayload{
			AuctionItemID:           auction.AuctionID,
			WinnerUserID:            auction.WinnerUserID,
			WinnerUsername:          auction.WinnerUsername,
			FinalBidAmountInDollars: wire.Dollars(auction.FinalAmount),
			AuctionEndedAtTimestamp: auction.EndTime.UnixMilli(),
		})
		r.rooms.Broadcast(auction.AuctionID, ev)

		winner := "none"
		if auction.WinnerUsername != nil {
			winner = *auction.WinnerUsername
		}
		log.Info().
			Str("auction_id", auction.AuctionID.String()).
			Str("winner", winner).
			Str("final_amount", auction.FinalAmount.StringFixed(2)).
			Msg("auction ended")
	}
}

func (r *Reaper) cleanupRevocations(ctx context.Context) {
	dropped, err := r.store.CleanupExpiredRevocations(ctx, r.clock.Now())
	if err != nil {
		log.Warn().Err(err).Msg("failed to clean up expired revocations")
		return
	}
	if dropped > 0 {
		log.Debug().Int64("dropped", dropped).Msg("cleaned up expired revocations")
	}
}
