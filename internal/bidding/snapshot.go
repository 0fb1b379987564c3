package bidding

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gavelhouse/gavel/internal/store"
	"github.com/gavelhouse/gavel/internal/wire"
)

// SnapshotReader assembles the auction state sent to a subscriber on join.
// It is read-only and lock-free: the cached current bid is preferred when
// present, the store row backs everything else. Cached values are hints, so
// an entry lower than the committed row is ignored.
type SnapshotReader struct {
	store Storage
	cache Cache
}

// NewSnapshotReader creates a snapshot reader over the same store and cache
// the pipeline writes through.
func NewSnapshotReader(storage Storage, cache Cache) *SnapshotReader {
	return &SnapshotReader{store: storage, cache: cache}
}

// Snapshot builds the full state sync payload for one auction.
func (r *SnapshotReader) Snapshot(ctx context.Context, auctionID uuid.UUID) (wire.AuctionStateSyncPayload, error) {
	auction, err := r.store.FindAuctionByID(ctx, auctionID)
	if err != nil {
		return wire.AuctionStateSyncPayload{}, fmt.Errorf("failed to read auction for snapshot: %w", err)
	}

	current := auction.CurrentHighestBid
	if cached, ok, err := r.cache.GetCurrentBid(ctx, auctionID); err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("bid cache unavailable for snapshot")
	} else if ok && cached.GreaterThan(current) {
		current = cached
	}

	// Cache-first for the bidder: a hit turns the ordering query into a
	// primary-key lookup. Any miss falls back to the store's ordering query.
	var bidderName *string
	if bidderID, ok, err := r.cache.GetHighestBidder(ctx, auctionID); err != nil {
		log.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("bidder cache unavailable for snapshot")
	} else if ok {
		if user, err := r.store.FindUserByID(ctx, bidderID); err == nil {
			bidderName = &user.Username
		}
	}
	if bidderName == nil {
		bidder, err := r.store.FindHighestBidder(ctx, auctionID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// No successful bids yet.
		case err != nil:
			return wire.AuctionStateSyncPayload{}, fmt.Errorf("failed to read highest bidder: %w", err)
		default:
			bidderName = &bidder.Username
		}
	}

	total, err := r.store.CountSuccessfulBids(ctx, auctionID)
	if err != nil {
		return wire.AuctionStateSyncPayload{}, fmt.Errorf("failed to count bids: %w", err)
	}

	return wire.AuctionStateSyncPayload{
		AuctionItemID:              auctionID,
		CurrentHighestBidInDollars: wire.Dollars(current),
		HighestBidderUsername:      bidderName,
		AuctionEndTimeTimestamp:    auction.EndTime.UnixMilli(),
		AuctionStatus:              string(auction.Status),
		TotalNumberOfBids:          total,
	}, nil
}
