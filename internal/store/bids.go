package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gavelhouse/gavel/internal/models"
)

type InsertBidRequest struct {
	AuctionID        uuid.UUID
	BidderUserID     uuid.UUID
	Amount           decimal.Decimal
	PlacedAt         time.Time
	WasSuccessful    bool
	ProcessingTimeMs int64
}

// InsertBid appends a bid attempt row and returns its id.
func (q *Queries) InsertBid(ctx context.Context, req InsertBidRequest) (uuid.UUID, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	var id uuid.UUID
	err := q.db.QueryRow(ctx, `
		INSERT INTO bids (auction_id, bidder_user_id, amount, placed_at, was_successful, processing_time_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		req.AuctionID, req.BidderUserID, req.Amount, req.PlacedAt,
		req.WasSuccessful, req.ProcessingTimeMs,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert bid: %w", err)
	}
	return id, nil
}

// CountSuccessfulBids returns how many accepted bids an auction has.
func (q *Queries) CountSuccessfulBids(ctx context.Context, auctionID uuid.UUID) (int64, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	var n int64
	err := q.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM bids WHERE auction_id = $1 AND was_successful`,
		auctionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count bids: %w", err)
	}
	return n, nil
}

// FindHighestBidder returns the user holding the current top successful bid,
// or ErrNotFound when the auction has no successful bids yet. Uses the same
// ordering as winner election so the two never disagree.
func (q *Queries) FindHighestBidder(ctx context.Context, auctionID uuid.UUID) (*models.User, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	row := q.db.QueryRow(ctx, `
		SELECT u.id, u.username, u.display_name, u.email, u.is_active, u.created_at
		FROM bids b
		JOIN users u ON u.id = b.bidder_user_id
		WHERE b.auction_id = $1 AND b.was_successful
		ORDER BY b.amount DESC, b.placed_at ASC, b.id ASC
		LIMIT 1`, auctionID)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find highest bidder: %w", err)
	}
	return user, nil
}
