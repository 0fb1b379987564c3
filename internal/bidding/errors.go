package bidding

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrorCode identifies why a bid was rejected. The first seven are
// client-attributable and flow back over the socket verbatim; the rest are
// server-attributable.
type ErrorCode string

const (
	CodeInvalidAmount          ErrorCode = "InvalidAmount"
	CodeAuctionNotFound        ErrorCode = "AuctionNotFound"
	CodeAuctionEnded           ErrorCode = "AuctionEnded"
	CodeAuctionNotStarted      ErrorCode = "AuctionNotStarted"
	CodeOwnAuction             ErrorCode = "OwnAuction"
	CodeBidTooLow              ErrorCode = "BidTooLow"
	CodeLockUnavailable        ErrorCode = "LockUnavailable"
	CodeConflict               ErrorCode = "Conflict"
	CodeCoordinatorUnavailable ErrorCode = "CoordinatorUnavailable"
	CodeStoreUnavailable       ErrorCode = "StoreUnavailable"
	CodeInternalError          ErrorCode = "InternalError"
)

// BidError is the sum-typed rejection of a bid attempt. The pipeline never
// lets errors escape as panics or bare wrapped chains; every failure is one
// of these.
type BidError struct {
	Code    ErrorCode
	Message string
	// Required carries the minimum acceptable amount for BidTooLow so the
	// client can prompt with it.
	Required decimal.Decimal
}

func (e *BidError) Error() string {
	return fmt.Sprintf("bid rejected: %s: %s", e.Code, e.Message)
}

// ClientAttributable reports whether the bidder caused the rejection. These
// come back as BID_PLACED_ERROR without closing the connection.
func (e *BidError) ClientAttributable() bool {
	switch e.Code {
	case CodeInvalidAmount, CodeAuctionNotFound, CodeAuctionEnded,
		CodeAuctionNotStarted, CodeOwnAuction, CodeBidTooLow, CodeLockUnavailable:
		return true
	}
	return false
}

// Retryable reports whether an immediate retry of the same bid can succeed.
func (e *BidError) Retryable() bool {
	return e.Code == CodeLockUnavailable || e.Code == CodeConflict
}

func errOf(code ErrorCode, format string, args ...any) *BidError {
	return &BidError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func errBidTooLow(required decimal.Decimal) *BidError {
	return &BidError{
		Code:     CodeBidTooLow,
		Message:  fmt.Sprintf("bid must be at least %s", required.StringFixed(2)),
		Required: required,
	}
}
