package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gavelhouse/gavel/internal/models"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	err     error
}

func newFakeRevocationStore() *fakeRevocationStore {
	return &fakeRevocationStore{revoked: make(map[string]time.Time)}
}

func (f *fakeRevocationStore) InsertRevokedCredential(_ context.Context, credential string, expiresAt time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[credential] = expiresAt
	return nil
}

func (f *fakeRevocationStore) LookupRevokedCredential(_ context.Context, credential string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[credential]
	return ok, nil
}

type fakeRevocationCache struct {
	mu      sync.Mutex
	revoked map[string]struct{}
	err     error
}

func newFakeRevocationCache() *fakeRevocationCache {
	return &fakeRevocationCache{revoked: make(map[string]struct{})}
}

func (f *fakeRevocationCache) MarkRevoked(_ context.Context, credential string, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[credential] = struct{}{}
	return nil
}

func (f *fakeRevocationCache) IsRevoked(_ context.Context, credential string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[credential]
	return ok, nil
}

func (f *fakeRevocationCache) has(credential string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[credential]
	return ok
}

func testUser() *models.User {
	return &models.User{
		ID:       uuid.New(),
		Username: "bob",
		Email:    "bob@example.com",
	}
}

func newTestService(lifetime time.Duration) (*Service, *fakeRevocationStore, *fakeRevocationCache) {
	st := newFakeRevocationStore()
	cache := newFakeRevocationCache()
	return New(testSecret, lifetime, st, cache), st, cache
}

func TestIssueVerifyRoundtrip(t *testing.T) {
	svc, _, _ := newTestService(time.Hour)
	user := testUser()

	credential, err := svc.Issue(user)
	require.NoError(t, err)
	require.NotEmpty(t, credential)

	identity, err := svc.Verify(context.Background(), credential)
	require.NoError(t, err)
	require.Equal(t, user.ID, identity.UserID)
	require.Equal(t, user.Username, identity.Username)
	require.Equal(t, user.Email, identity.Email)
}

func TestVerifyExpired(t *testing.T) {
	svc, _, _ := newTestService(-time.Minute)

	credential, err := svc.Issue(testUser())
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), credential)
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyWrongSecret(t *testing.T) {
	svc, _, _ := newTestService(time.Hour)
	credential, err := svc.Issue(testUser())
	require.NoError(t, err)

	other := New([]byte("ffffffffffffffffffffffffffffffff"), time.Hour,
		newFakeRevocationStore(), newFakeRevocationCache())
	_, err = other.Verify(context.Background(), credential)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestVerifyGarbage(t *testing.T) {
	svc, _, _ := newTestService(time.Hour)
	for _, credential := range []string{"", "not-a-token", "a.b.c"} {
		_, err := svc.Verify(context.Background(), credential)
		require.ErrorIs(t, err, ErrInvalidCredential)
	}
}

func TestVerifyRejectsForeignAlgorithm(t *testing.T) {
	svc, _, _ := newTestService(time.Hour)

	// A well-formed HS384 token signed with the right secret must still be
	// turned away.
	claims := Claims{
		UserID:   uuid.New(),
		Username: "mallory",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	credential, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), credential)
	require.ErrorIs(t, err, ErrBadAlgorithm)
}

func TestRevokeBlocksCredential(t *testing.T) {
	svc, st, cache := newTestService(time.Hour)
	credential, err := svc.Issue(testUser())
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), credential))
	require.True(t, cache.has(credential))

	_, err = svc.Verify(context.Background(), credential)
	require.ErrorIs(t, err, ErrRevoked)

	// Other credentials are untouched.
	other, err := svc.Issue(testUser())
	require.NoError(t, err)
	_, err = svc.Verify(context.Background(), other)
	require.NoError(t, err)

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Contains(t, st.revoked, credential)
}

func TestRevokeExpiredIsNoop(t *testing.T) {
	expired, st, _ := newTestService(-time.Minute)
	credential, err := expired.Issue(testUser())
	require.NoError(t, err)

	require.NoError(t, expired.Revoke(context.Background(), credential))

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Empty(t, st.revoked, "expired credentials need no revocation row")
}

func TestVerifyStoreFallbackRefreshesCache(t *testing.T) {
	svc, st, cache := newTestService(time.Hour)
	credential, err := svc.Issue(testUser())
	require.NoError(t, err)

	// Revocation exists only in the store, as after a cache flush.
	require.NoError(t, st.InsertRevokedCredential(context.Background(), credential, time.Now().Add(time.Hour)))

	_, err = svc.Verify(context.Background(), credential)
	require.ErrorIs(t, err, ErrRevoked)
	require.True(t, cache.has(credential), "store hit must repopulate the cache")
}

func TestVerifyCacheOutageFallsBackToStore(t *testing.T) {
	svc, _, cache := newTestService(time.Hour)
	cache.err = context.DeadlineExceeded

	credential, err := svc.Issue(testUser())
	require.NoError(t, err)

	identity, err := svc.Verify(context.Background(), credential)
	require.NoError(t, err)
	require.NotNil(t, identity)
}
