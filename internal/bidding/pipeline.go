package bidding

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gavelhouse/gavel/internal/lock"
	"github.com/gavelhouse/gavel/internal/models"
	"github.com/gavelhouse/gavel/internal/store"
	"github.com/gavelhouse/gavel/internal/wire"
)

// Storage is the slice of the store adapter the pipeline needs.
type Storage interface {
	FindAuctionByID(ctx context.Context, id uuid.UUID) (*models.Auction, error)
	CommitBid(ctx context.Context, req store.CommitBidRequest) (uuid.UUID, error)
	RecordFailedBid(ctx context.Context, req store.InsertBidRequest) error
	CountSuccessfulBids(ctx context.Context, auctionID uuid.UUID) (int64, error)
	FindHighestBidder(ctx context.Context, auctionID uuid.UUID) (*models.User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Locks provides the structured per-auction exclusive section.
type Locks interface {
	With(ctx context.Context, auctionID uuid.UUID, fn func(ctx context.Context) error) error
}

// Cache is the advisory coordinator cache; failures here never fail a bid.
type Cache interface {
	SetCurrentBid(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal) error
	SetHighestBidder(ctx context.Context, auctionID, bidderID uuid.UUID) error
	GetCurrentBid(ctx context.Context, auctionID uuid.UUID) (decimal.Decimal, bool, error)
	GetHighestBidder(ctx context.Context, auctionID uuid.UUID) (uuid.UUID, bool, error)
}

// Broadcaster fans a committed update out to the auction's room.
type Broadcaster interface {
	Broadcast(auctionID uuid.UUID, event wire.Event)
}

// PlaceBidRequest is one bid attempt from an authenticated connection.
type PlaceBidRequest struct {
	AuctionID      uuid.UUID
	BidderUserID   uuid.UUID
	BidderUsername string
	Amount         decimal.Decimal
}

// BidResult is the terminal reply for an accepted bid.
type BidResult struct {
	BidID      uuid.UUID
	Amount     decimal.Decimal
	AcceptedAt time.Time
	TotalBids  int64
}

// Pipeline is the end-to-end place-bid path: validate, lock, commit, cache,
// broadcast. One instance serves all auctions.
type Pipeline struct {
	store Storage
	locks Locks
	cache Cache
	rooms Broadcaster
	clock clockwork.Clock
}

// New creates a bid pipeline.
func New(storage Storage, locks Locks, cache Cache, rooms Broadcaster, clock clockwork.Clock) *Pipeline {
	return &Pipeline{
		store: storage,
		locks: locks,
		cache: cache,
		rooms: rooms,
		clock: clock,
	}
}

// PlaceBid runs one attempt through the full pipeline. All successful bids
// on an auction are totally ordered by the per-auction lock; each observes a
// strictly greater current price than its predecessor.
func (p *Pipeline) PlaceBid(ctx context.Context, req PlaceBidRequest) (*BidResult, *BidError) {
	started := p.clock.Now()

	// Guard shape before touching any shared resource.
	if !req.Amount.IsPositive() {
		return nil, errOf(CodeInvalidAmount, "amount must be positive")
	}
	if req.Amount.Exponent() < -2 && !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, errOf(CodeInvalidAmount, "amount has more than two fractional digits")
	}

	var (
		result   BidResult
		auditRow *store.InsertBidRequest
	)

	lockErr := p.locks.With(ctx, req.AuctionID, func(ctx context.Context) error {
		bidErr := p.attempt(ctx, req, started, &result)
		if bidErr != nil {
			if bidErr.Code != CodeAuctionNotFound {
				// Auction exists: keep an audit row. Written outside the
				// lock so rejections never stretch the exclusive section.
				auditRow = &store.InsertBidRequest{
					AuctionID:        req.AuctionID,
					BidderUserID:     req.BidderUserID,
					Amount:           req.Amount,
					PlacedAt:         p.clock.Now(),
					ProcessingTimeMs: p.clock.Since(started).Milliseconds(),
				}
			}
			return bidErr
		}

		// Broadcast before the lock is released: the next bid on this auction
		// cannot commit until this fan-out finishes, so subscribers see
		// updates in commit order. Enqueueing is non-blocking, so the hold is
		// bounded.
		p.rooms.Broadcast(req.AuctionID, wire.MustEvent(wire.EventTypeBidUpdate, wire.BidUpdateBroadcastPayload{
			AuctionItemID:          req.AuctionID,
			NewHighestBidInDollars: wire.Dollars(result.Amount),
			HighestBidderUserID:    req.BidderUserID,
			HighestBidderUsername:  req.BidderUsername,
			BidPlacedAtTimestamp:   result.AcceptedAt.UnixMilli(),
			TotalNumberOfBids:      result.TotalBids,
		}))
		return nil
	})

	if auditRow != nil {
		if err := p.store.RecordFailedBid(context.WithoutCancel(ctx), *auditRow); err != nil {
			log.Warn().Err(err).Str("auction_id", req.AuctionID.String()).Msg("failed to record bid audit row")
		}
	}

	if lockErr != nil {
		return nil, p.asBidError(lockErr, req)
	}

	log.Info().
		Str("auction_id", req.AuctionID.String()).
		Str("bidder_id", req.BidderUserID.String()).
		Str("amount", result.Amount.StringFixed(2)).
		Dur("took", p.clock.Since(started)).
		Msg("bid accepted")

	return &result, nil
}

// attempt is the exclusive section: everything here runs under the
// per-auction lock.
func (p *Pipeline) attempt(ctx context.Context, req PlaceBidRequest, started time.Time, result *BidResult) *BidError {
	auction, err := p.store.FindAuctionByID(ctx, req.AuctionID)
	if errors.Is(err, store.ErrNotFound) {
		return errOf(CodeAuctionNotFound, "auction %s does not exist", req.AuctionID)
	}
	if err != nil {
		return errOf(CodeStoreUnavailable, "reading auction: %v", err)
	}

	now := p.clock.Now()
	switch {
	case auction.Status != models.AuctionStatusActive || !now.Before(auction.EndTime):
		return errOf(CodeAuctionEnded, "auction is no longer accepting bids")
	case now.Before(auction.StartTime):
		return errOf(CodeAuctionNotStarted, "auction has not started yet")
	case auction.CreatorUserID == req.BidderUserID:
		return errOf(CodeOwnAuction, "creators cannot bid on their own auctions")
	}

	required := auction.RequiredBid()
	if req.Amount.LessThan(required) {
		return errBidTooLow(required)
	}

	placedAt := p.clock.Now()
	bidID, err := p.store.CommitBid(ctx, store.CommitBidRequest{
		AuctionID:        req.AuctionID,
		BidderUserID:     req.BidderUserID,
		ExpectedCurrent:  auction.CurrentHighestBid,
		Amount:           req.Amount,
		PlacedAt:         placedAt,
		ProcessingTimeMs: p.clock.Since(started).Milliseconds(),
	})
	if errors.Is(err, store.ErrStalePrice) {
		// Lock TTL expired mid-transaction or a split-brain writer got in.
		// The conditional update is the backstop; the caller may retry.
		return errOf(CodeConflict, "auction changed underneath this bid")
	}
	if err != nil {
		return errOf(CodeInternalError, "committing bid: %v", err)
	}

	// Advisory cache refresh; a miss here costs a store read later, nothing
	// more.
	if err := p.cache.SetCurrentBid(ctx, req.AuctionID, req.Amount); err != nil {
		log.Warn().Err(err).Str("auction_id", req.AuctionID.String()).Msg("failed to cache current bid")
	}
	if err := p.cache.SetHighestBidder(ctx, req.AuctionID, req.BidderUserID); err != nil {
		log.Warn().Err(err).Str("auction_id", req.AuctionID.String()).Msg("failed to cache highest bidder")
	}

	total, err := p.store.CountSuccessfulBids(ctx, req.AuctionID)
	if err != nil {
		log.Warn().Err(err).Str("auction_id", req.AuctionID.String()).Msg("failed to count bids for broadcast")
	}

	*result = BidResult{
		BidID:      bidID,
		Amount:     req.Amount,
		AcceptedAt: placedAt,
		TotalBids:  total,
	}
	return nil
}

// asBidError folds lock-layer failures and escaped errors into the sum type.
func (p *Pipeline) asBidError(err error, req PlaceBidRequest) *BidError {
	var bidErr *BidError
	switch {
	case errors.As(err, &bidErr):
		return bidErr
	case errors.Is(err, lock.ErrLockUnavailable):
		return errOf(CodeLockUnavailable, "another bid on this auction is in flight")
	case errors.Is(err, lock.ErrCoordinatorUnavailable):
		return errOf(CodeCoordinatorUnavailable, "coordinator unreachable")
	default:
		log.Error().Err(err).Str("auction_id", req.AuctionID.String()).Msg("unexpected bid pipeline failure")
		return errOf(CodeInternalError, "unexpected failure")
	}
}
