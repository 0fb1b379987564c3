package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event is the envelope for every message crossing the socket, in either
// direction. Payload holds the type-specific body.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventType names a socket message. These names are part of the client
// contract and must not change.
type EventType string

const (
	// Client → server
	EventTypeAuth             EventType = "AUTH"
	EventTypeTimeSyncRequest  EventType = "TIME_SYNC_REQUEST"
	EventTypeJoinAuctionRoom  EventType = "JOIN_AUCTION_ROOM"
	EventTypeLeaveAuctionRoom EventType = "LEAVE_AUCTION_ROOM"
	EventTypePlaceBid         EventType = "PLACE_BID"

	// Server → client
	EventTypeTimeSyncResponse EventType = "TIME_SYNC_RESPONSE"
	EventTypeJoinedRoom       EventType = "JOINED_AUCTION_ROOM"
	EventTypeLeftRoom         EventType = "LEFT_AUCTION_ROOM"
	EventTypeStateSync        EventType = "AUCTION_STATE_SYNC"
	EventTypeBidUpdate        EventType = "BID_UPDATE_BROADCAST"
	EventTypeBidSuccess       EventType = "BID_PLACED_SUCCESS"
	EventTypeBidError         EventType = "BID_PLACED_ERROR"
	EventTypeAuctionEnded     EventType = "AUCTION_ENDED_NOTIFICATION"
)

// NewEvent wraps a payload struct into an Event, marshaling the body.
func NewEvent(t EventType, payload any) (Event, error) {
	if payload == nil {
		return Event{Type: t}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{Type: t, Payload: data}, nil
}

// MustEvent is NewEvent for payload structs that cannot fail to marshal.
func MustEvent(t EventType, payload any) Event {
	ev, err := NewEvent(t, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// Dollars renders a decimal amount as a JSON number with exactly two
// fractional digits, so the wire form never drifts from the stored form.
func Dollars(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// AuthPayload carries the bearer credential on the handshake.
type AuthPayload struct {
	Token string `json:"token"`
}

type TimeSyncRequestPayload struct {
	ClientTimestampT0InMs int64 `json:"clientTimestampT0InMs"`
}

type TimeSyncResponsePayload struct {
	ClientTimestampT0InMs int64 `json:"clientTimestampT0InMs"`
	ServerTimestampT1InMs int64 `json:"serverTimestampT1InMs"`
	ServerTimestampT2InMs int64 `json:"serverTimestampT2InMs"`
}

type JoinAuctionRoomPayload struct {
	AuctionItemID uuid.UUID `json:"auctionItemId"`
}

type LeaveAuctionRoomPayload struct {
	AuctionItemID uuid.UUID `json:"auctionItemId"`
}

type PlaceBidPayload struct {
	AuctionItemID      uuid.UUID   `json:"auctionItemId"`
	BidAmountInDollars json.Number `json:"bidAmountInDollars"`
}

type JoinedAuctionRoomPayload struct {
	AuctionItemID uuid.UUID `json:"auctionItemId"`
}

type LeftAuctionRoomPayload struct {
	AuctionItemID uuid.UUID `json:"auctionItemId"`
}

// AuctionStateSyncPayload is the full snapshot sent to a subscriber on join.
type AuctionStateSyncPayload struct {
	AuctionItemID              uuid.UUID   `json:"auctionItemId"`
	CurrentHighestBidInDollars json.Number `json:"currentHighestBidInDollars"`
	HighestBidderUsername      *string     `json:"highestBidderUsername"`
	AuctionEndTimeTimestamp    int64       `json:"auctionEndTimeTimestamp"`
	AuctionStatus              string      `json:"auctionStatus"`
	TotalNumberOfBids          int64       `json:"totalNumberOfBids"`
}

type BidUpdateBroadcastPayload struct {
	AuctionItemID          uuid.UUID   `json:"auctionItemId"`
	NewHighestBidInDollars json.Number `json:"newHighestBidInDollars"`
	HighestBidderUserID    uuid.UUID   `json:"highestBidderUserId"`
	HighestBidderUsername  string      `json:"highestBidderUsername"`
	BidPlacedAtTimestamp   int64       `json:"bidPlacedAtTimestamp"`
	TotalNumberOfBids      int64       `json:"totalNumberOfBids"`
}

type BidPlacedSuccessPayload struct {
	AuctionItemID        uuid.UUID   `json:"auctionItemId"`
	BidAmountInDollars   json.Number `json:"bidAmountInDollars"`
	BidID                uuid.UUID   `json:"bidId"`
	BidPlacedAtTimestamp int64       `json:"bidPlacedAtTimestamp"`
}

type BidPlacedErrorPayload struct {
	AuctionItemID uuid.UUID `json:"auctionItemId"`
	ErrorCode     string    `json:"errorCode"`
	ErrorMessage  string    `json:"errorMessage"`
}

type AuctionEndedNotificationPayload struct {
	AuctionItemID           uuid.UUID   `json:"auctionItemId"`
	WinnerUserID            *uuid.UUID  `json:"winnerUserId"`
	WinnerUsername          *string     `json:"winnerUsername"`
	FinalBidAmountInDollars json.Number `json:"finalBidAmountInDollars"`
	AuctionEndedAtTimestamp int64       `json:"auctionEndedAtTimestamp"`
}
