package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// fakeCoordinator mirrors SET NX semantics: one holder per key, release only
// by token match.
type fakeCoordinator struct {
	mu         sync.Mutex
	holders    map[uuid.UUID]string
	acquireErr error
	releaseErr error
	released   []string
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{holders: make(map[uuid.UUID]string)}
}

func (f *fakeCoordinator) AcquireLock(_ context.Context, auctionID uuid.UUID, token string, _ time.Duration) (bool, error) {
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.holders[auctionID]; held {
		return false, nil
	}
	f.holders[auctionID] = token
	return true, nil
}

func (f *fakeCoordinator) ReleaseLock(_ context.Context, auctionID uuid.UUID, token string) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holders[auctionID] == token {
		delete(f.holders, auctionID)
		f.released = append(f.released, token)
	}
	return nil
}

func (f *fakeCoordinator) holder(auctionID uuid.UUID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.holders[auctionID]
	return tok, ok
}

func TestWithRunsAndReleases(t *testing.T) {
	coord := newFakeCoordinator()
	svc := New(coord, 3*time.Second)
	auctionID := uuid.New()

	var ran bool
	err := svc.With(context.Background(), auctionID, func(ctx context.Context) error {
		ran = true
		_, held := coord.holder(auctionID)
		require.True(t, held, "lock must be held inside the critical section")
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	_, held := coord.holder(auctionID)
	require.False(t, held, "lock must be released after With returns")
}

func TestWithReleasesOnError(t *testing.T) {
	coord := newFakeCoordinator()
	svc := New(coord, 3*time.Second)
	auctionID := uuid.New()

	sentinel := errors.New("commit failed")
	err := svc.With(context.Background(), auctionID, func(ctx context.Context) error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, held := coord.holder(auctionID)
	require.False(t, held)
}

func TestWithReleasesOnPanic(t *testing.T) {
	coord := newFakeCoordinator()
	svc := New(coord, 3*time.Second)
	auctionID := uuid.New()

	require.Panics(t, func() {
		_ = svc.With(context.Background(), auctionID, func(ctx context.Context) error {
			panic("boom")
		})
	})

	_, held := coord.holder(auctionID)
	require.False(t, held, "lock must be released even when fn panics")
}

func TestWithContended(t *testing.T) {
	coord := newFakeCoordinator()
	svc := New(coord, 3*time.Second)
	auctionID := uuid.New()
	coord.holders[auctionID] = "someone-else"

	var ran bool
	err := svc.With(context.Background(), auctionID, func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.ErrorIs(t, err, ErrLockUnavailable)
	require.False(t, ran, "fn must not run without the lock")

	// The foreign holder keeps its lock.
	tok, held := coord.holder(auctionID)
	require.True(t, held)
	require.Equal(t, "someone-else", tok)
}

func TestWithCoordinatorDown(t *testing.T) {
	coord := newFakeCoordinator()
	coord.acquireErr = errors.New("connection refused")
	svc := New(coord, 3*time.Second)

	err := svc.With(context.Background(), uuid.New(), func(ctx context.Context) error {
		t.Fatal("fn must not run")
		return nil
	})
	require.ErrorIs(t, err, ErrCoordinatorUnavailable)
}

func TestReleaseFailureDoesNotEscape(t *testing.T) {
	coord := newFakeCoordinator()
	coord.releaseErr = errors.New("connection reset")
	svc := New(coord, 3*time.Second)

	// With swallows release failures; the TTL is the backstop.
	err := svc.With(context.Background(), uuid.New(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestAcquireTokensAreUnique(t *testing.T) {
	coord := newFakeCoordinator()
	svc := New(coord, 3*time.Second)

	tokens := make(map[string]struct{})
	for i := 0; i < 16; i++ {
		auctionID := uuid.New()
		token, ok, err := svc.Acquire(context.Background(), auctionID)
		require.NoError(t, err)
		require.True(t, ok)
		_, dup := tokens[token]
		require.False(t, dup, "token %s issued twice", token)
		tokens[token] = struct{}{}
		require.NoError(t, svc.Release(context.Background(), auctionID, token))
	}
}
