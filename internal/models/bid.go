package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid records a single place-bid attempt. Successful bids form an
// append-only, strictly-increasing-by-amount sequence per auction. Rows are
// never mutated after insert.
type Bid struct {
	ID               uuid.UUID       `json:"id"`
	AuctionID        uuid.UUID       `json:"auction_id"`
	BidderUserID     uuid.UUID       `json:"bidder_user_id"`
	Amount           decimal.Decimal `json:"amount"`
	PlacedAt         time.Time       `json:"placed_at"`
	WasSuccessful    bool            `json:"was_successful"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
}
