package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrLockUnavailable means another bid holds the auction's lock. Callers
	// surface this as a transient error; the client may retry.
	ErrLockUnavailable = errors.New("lock: auction lock held elsewhere")
	// ErrCoordinatorUnavailable wraps coordinator I/O failures.
	ErrCoordinatorUnavailable = errors.New("lock: coordinator unavailable")
)

// Coordinator is the slice of the coordinator client the lock service needs.
type Coordinator interface {
	AcquireLock(ctx context.Context, auctionID uuid.UUID, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, auctionID uuid.UUID, token string) error
}

// Service provides per-auction mutual exclusion across all replicas. A lock
// is a coordinator key holding a random token with a TTL; only the token
// holder can release it early, and the TTL bounds the worst-case hold.
type Service struct {
	coord Coordinator
	ttl   time.Duration
}

// New creates a lock service. ttl must strictly exceed the expected
// critical-section duration.
func New(coord Coordinator, ttl time.Duration) *Service {
	return &Service{coord: coord, ttl: ttl}
}

// Acquire takes the per-auction lock. ok is false when the lock is held by
// another bid; err reports coordinator failures only.
func (s *Service) Acquire(ctx context.Context, auctionID uuid.UUID) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = s.coord.AcquireLock(ctx, auctionID, token, s.ttl)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCoordinatorUnavailable, err)
	}
	return token, ok, nil
}

// Release gives the lock back. Safe to call after the TTL expired: the
// token-matched delete is a no-op when the lock moved on.
func (s *Service) Release(ctx context.Context, auctionID uuid.UUID, token string) error {
	if err := s.coord.ReleaseLock(ctx, auctionID, token); err != nil {
		return fmt.Errorf("%w: %v", ErrCoordinatorUnavailable, err)
	}
	return nil
}

// With runs fn while holding the auction's lock and guarantees the release
// runs on every exit path, including a panic inside fn. When acquisition
// fails because the lock is contended, fn is not invoked and the call
// returns ErrLockUnavailable.
func (s *Service) With(ctx context.Context, auctionID uuid.UUID, fn func(ctx context.Context) error) error {
	token, ok, err := s.Acquire(ctx, auctionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockUnavailable
	}

	defer func() {
		// Release under a fresh context: the caller's deadline may already
		// have fired, but the lock still has to go back.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.Release(releaseCtx, auctionID, token); err != nil {
			log.Warn().
				Err(err).
				Str("auction_id", auctionID.String()).
				Msg("failed to release auction lock, TTL will reclaim it")
		}
	}()

	return fn(ctx)
}
