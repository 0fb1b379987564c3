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

const auctionColumns = `id, title, description, starting_price, current_highest_bid,
	minimum_increment, start_time, end_time, status, creator_user_id,
	winner_user_id, created_at, updated_at`

type CreateAuctionRequest struct {
	Title            string
	Description      string
	StartingPrice    decimal.Decimal
	MinimumIncrement decimal.Decimal
	StartTime        time.Time
	EndTime          time.Time
	CreatorUserID    uuid.UUID
}

// CreateAuction inserts a new auction in ACTIVE status with the current
// highest bid seeded to the starting price.
func (q *Queries) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*models.Auction, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	if !req.EndTime.After(req.StartTime) {
		return nil, fmt.Errorf("auction end time must be after start time")
	}

	row := q.db.QueryRow(ctx, `
		INSERT INTO auctions (title, description, starting_price, current_highest_bid,
			minimum_increment, start_time, end_time, status, creator_user_id)
		VALUES ($1, $2, $3, $3, $4, $5, $6, 'ACTIVE', $7)
		RETURNING `+auctionColumns,
		req.Title, req.Description, req.StartingPrice, req.MinimumIncrement,
		req.StartTime, req.EndTime, req.CreatorUserID)

	auction, err := scanAuction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	return auction, nil
}

// FindAuctionByID fetches a single auction row. Readers do not need the
// per-auction lock; only writers do.
func (q *Queries) FindAuctionByID(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	row := q.db.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	auction, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

// ConditionalPriceBump raises the auction price only if the row still carries
// the price the caller read. The per-auction lock is the primary guard; this
// conditional defends against split-brain and expired locks.
func (q *Queries) ConditionalPriceBump(ctx context.Context, id uuid.UUID, expectedCurrent, newPrice decimal.Decimal, updatedAt time.Time) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tag, err := q.db.Exec(ctx, `
		UPDATE auctions
		SET current_highest_bid = $1, updated_at = $2
		WHERE id = $3 AND current_highest_bid = $4 AND status = 'ACTIVE'`,
		newPrice, updatedAt, id, expectedCurrent)
	if err != nil {
		return fmt.Errorf("failed to bump auction price: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStalePrice
	}
	return nil
}

// EndExpiredAuctions flips every ACTIVE auction whose end time has passed to
// ENDED and returns the affected ids. The status guard in the WHERE clause is
// the serialization point across replicas: a given auction ends exactly once.
func (q *Queries) EndExpiredAuctions(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	rows, err := q.db.Query(ctx, `
		UPDATE auctions
		SET status = 'ENDED', updated_at = $1
		WHERE status = 'ACTIVE' AND end_time <= $1
		RETURNING id`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to end expired auctions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ended auction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EndedAuction describes a finished auction for the end-of-auction broadcast.
type EndedAuction struct {
	AuctionID      uuid.UUID
	WinnerUserID   *uuid.UUID
	WinnerUsername *string
	FinalAmount    decimal.Decimal
	EndTime        time.Time
}

// PickWinners elects and persists a winner for each newly ended auction.
// The winning bid is the highest amount, ties broken by earliest placed_at,
// then by smallest bid id, so every replica elects the same winner. Auctions
// with no successful bids keep a null winner.
func (q *Queries) PickWinners(ctx context.Context, ids []uuid.UUID) ([]EndedAuction, error) {
	out := make([]EndedAuction, 0, len(ids))
	for _, id := range ids {
		ended, err := q.pickWinner(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, ended)
	}
	return out, nil
}

func (q *Queries) pickWinner(ctx context.Context, id uuid.UUID) (EndedAuction, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	_, err := q.db.Exec(ctx, `
		UPDATE auctions a
		SET winner_user_id = w.bidder_user_id
		FROM (
			SELECT bidder_user_id
			FROM bids
			WHERE auction_id = $1 AND was_successful
			ORDER BY amount DESC, placed_at ASC, id ASC
			LIMIT 1
		) w
		WHERE a.id = $1 AND a.status = 'ENDED' AND a.winner_user_id IS NULL`, id)
	if err != nil {
		return EndedAuction{}, fmt.Errorf("failed to elect winner for %s: %w", id, err)
	}

	var ended EndedAuction
	row := q.db.QueryRow(ctx, `
		SELECT a.id, a.winner_user_id, u.username, a.current_highest_bid, a.end_time
		FROM auctions a
		LEFT JOIN users u ON u.id = a.winner_user_id
		WHERE a.id = $1`, id)
	if err := row.Scan(&ended.AuctionID, &ended.WinnerUserID, &ended.WinnerUsername, &ended.FinalAmount, &ended.EndTime); err != nil {
		return EndedAuction{}, fmt.Errorf("failed to read ended auction %s: %w", id, err)
	}
	return ended, nil
}

func scanAuction(row pgx.Row) (*models.Auction, error) {
	var a models.Auction
	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &a.StartingPrice, &a.CurrentHighestBid,
		&a.MinimumIncrement, &a.StartTime, &a.EndTime, &a.Status, &a.CreatorUserID,
		&a.WinnerUserID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
