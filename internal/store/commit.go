package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CommitBidRequest struct {
	AuctionID        uuid.UUID
	BidderUserID     uuid.UUID
	ExpectedCurrent  decimal.Decimal
	Amount           decimal.Decimal
	PlacedAt         time.Time
	ProcessingTimeMs int64
}

// CommitBid atomically bumps the auction price and appends the successful
// bid row. When the conditional bump matches no row the whole transaction
// rolls back and ErrStalePrice comes back; nothing is half-written.
func (s *Store) CommitBid(ctx context.Context, req CommitBidRequest) (uuid.UUID, error) {
	var bidID uuid.UUID
	err := s.WithTx(ctx, func(q *Queries) error {
		if err := q.ConditionalPriceBump(ctx, req.AuctionID, req.ExpectedCurrent, req.Amount, req.PlacedAt); err != nil {
			return err
		}
		id, err := q.InsertBid(ctx, InsertBidRequest{
			AuctionID:        req.AuctionID,
			BidderUserID:     req.BidderUserID,
			Amount:           req.Amount,
			PlacedAt:         req.PlacedAt,
			WasSuccessful:    true,
			ProcessingTimeMs: req.ProcessingTimeMs,
		})
		if err != nil {
			return err
		}
		bidID = id
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return bidID, nil
}

// RecordFailedBid appends an audit row for a rejected attempt. Runs outside
// any lock and never alters auction state.
func (s *Store) RecordFailedBid(ctx context.Context, req InsertBidRequest) error {
	req.WasSuccessful = false
	_, err := s.InsertBid(ctx, req)
	return err
}
