package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStatus defines the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "ACTIVE"
	AuctionStatusEnded     AuctionStatus = "ENDED"
	AuctionStatusCancelled AuctionStatus = "CANCELLED"
)

// Auction represents an item offered for bidding. CurrentHighestBid is
// mutated only by the bid pipeline under the per-auction lock; Status and
// WinnerUserID are mutated only by the expiry reaper.
type Auction struct {
	ID                uuid.UUID       `json:"id"`
	Title             string          `json:"title"`
	Description       string          `json:"description"`
	StartingPrice     decimal.Decimal `json:"starting_price"`
	CurrentHighestBid decimal.Decimal `json:"current_highest_bid"`
	MinimumIncrement  decimal.Decimal `json:"minimum_increment"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           time.Time       `json:"end_time"`
	Status            AuctionStatus   `json:"status"`
	CreatorUserID     uuid.UUID       `json:"creator_user_id"`
	WinnerUserID      *uuid.UUID      `json:"winner_user_id,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RequiredBid returns the minimum amount the next successful bid must reach.
func (a *Auction) RequiredBid() decimal.Decimal {
	return a.CurrentHighestBid.Add(a.MinimumIncrement)
}
