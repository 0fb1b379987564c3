package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// releaseScript deletes a lock key only when it still holds the caller's
// token. The compare and delete happen atomically on the coordinator, so a
// holder whose TTL already expired can never delete a successor's lock.
//
//	KEYS[1] - lock key
//	ARGV[1] - token the caller acquired with
//
// Returns 1 when the key was deleted, 0 otherwise.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// Every coordinator call carries a deadline; callers without one get this.
const callTimeout = 2 * time.Second

// Cached bid state is advisory and short-lived; the store stays the source
// of truth.
const cacheTTL = 60 * time.Second

// Client wraps the shared coordinator connection. It is constructed once at
// startup and passed to components as a capability.
type Client struct {
	rdb *redis.Client
}

// New creates a Client over an established go-redis connection.
func New(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Ping verifies coordinator connectivity at startup.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock sets the per-auction lock key to token with the given TTL,
// only if absent. Returns false when another holder owns the lock.
func (c *Client) AcquireLock(ctx context.Context, auctionID uuid.UUID, token string, ttl time.Duration) (bool, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	return c.rdb.SetNX(ctx, lockKey(auctionID), token, ttl).Result()
}

// ReleaseLock deletes the lock only when the stored token matches. A
// non-matching delete is a no-op, not an error: the lock simply expired and
// was re-acquired by someone else.
func (c *Client) ReleaseLock(ctx context.Context, auctionID uuid.UUID, token string) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	return releaseScript.Run(ctx, c.rdb, []string{lockKey(auctionID)}, token).Err()
}

// SetCurrentBid refreshes the advisory current-bid cache entry.
func (c *Client) SetCurrentBid(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	return c.rdb.Set(ctx, currentBidKey(auctionID), amount.StringFixed(2), cacheTTL).Err()
}

// GetCurrentBid reads the cached current bid. The second return is false on
// a cache miss.
func (c *Client) GetCurrentBid(ctx context.Context, auctionID uuid.UUID) (decimal.Decimal, bool, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	val, err := c.rdb.Get(ctx, currentBidKey(auctionID)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	amount, err := decimal.NewFromString(val)
	if err != nil {
		// A corrupt cache entry is a miss, not a failure.
		return decimal.Zero, false, nil
	}
	return amount, true, nil
}

// SetHighestBidder refreshes the advisory highest-bidder cache entry.
func (c *Client) SetHighestBidder(ctx context.Context, auctionID, bidderID uuid.UUID) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()
	return c.rdb.Set(ctx, highestBidderKey(auctionID), bidderID.String(), cacheTTL).Err()
}

// GetHighestBidder reads the cached highest bidder id. The second return is
// false on a cache miss.
func (c *Client) GetHighestBidder(ctx context.Context, auctionID uuid.UUID) (uuid.UUID, bool, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	val, err := c.rdb.Get(ctx, highestBidderKey(auctionID)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return id, true, nil
}

// MarkRevoked caches a credential revocation for the remaining credential
// lifetime, capped at 24 hours.
func (c *Client) MarkRevoked(ctx context.Context, credential string, ttl time.Duration) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	if ttl <= 0 {
		return nil // already expired, nothing to block
	}
	if ttl > 24*time.Hour {
		ttl = 24 * time.Hour
	}
	return c.rdb.Set(ctx, revokedKey(credential), "1", ttl).Err()
}

// IsRevoked reports whether a credential is in the revocation cache. A miss
// means "unknown", not "valid"; callers fall back to the store.
func (c *Client) IsRevoked(ctx context.Context, credential string) (bool, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	_, err := c.rdb.Get(ctx, revokedKey(credential)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, callTimeout)
}
