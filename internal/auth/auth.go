package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gavelhouse/gavel/internal/models"
)

var (
	// ErrInvalidCredential covers malformed tokens and bad signatures.
	ErrInvalidCredential = errors.New("auth: invalid credential")
	// ErrBadAlgorithm means the token was signed with anything but HS256.
	ErrBadAlgorithm = errors.New("auth: unexpected signing algorithm")
	// ErrExpired means the credential's lifetime has passed.
	ErrExpired = errors.New("auth: credential expired")
	// ErrRevoked means the credential was explicitly revoked.
	ErrRevoked = errors.New("auth: credential revoked")
)

// Claims is the self-contained credential body. Field names are part of the
// client contract.
type Claims struct {
	UserID    uuid.UUID `json:"userId"`
	UserEmail string    `json:"userEmail"`
	Username  string    `json:"username"`
	jwt.RegisteredClaims
}

// Identity is what a verified credential resolves to.
type Identity struct {
	UserID   uuid.UUID
	Username string
	Email    string
}

// RevocationStore is the durable side of the revocation set.
type RevocationStore interface {
	InsertRevokedCredential(ctx context.Context, credential string, expiresAt time.Time) error
	LookupRevokedCredential(ctx context.Context, credential string) (bool, error)
}

// RevocationCache is the coordinator-backed fast path for revocation checks.
type RevocationCache interface {
	MarkRevoked(ctx context.Context, credential string, ttl time.Duration) error
	IsRevoked(ctx context.Context, credential string) (bool, error)
}

// Service issues, verifies and revokes bearer credentials. Tokens are HMAC
// signed (HS256) with a shared server secret.
type Service struct {
	secret   []byte
	lifetime time.Duration
	store    RevocationStore
	cache    RevocationCache
}

// New creates an auth service. secret must be at least 32 bytes; config
// validation enforces that before we get here.
func New(secret []byte, lifetime time.Duration, store RevocationStore, cache RevocationCache) *Service {
	return &Service{secret: secret, lifetime: lifetime, store: store, cache: cache}
}

// Issue mints a credential for a user with the configured lifetime.
func (s *Service) Issue(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:    user.ID,
		UserEmail: user.Email,
		Username:  user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign credential: %w", err)
	}
	return signed, nil
}

// Verify checks signature, algorithm, expiry and the revocation set, in that
// order, and yields the bearer's identity.
func (s *Service) Verify(ctx context.Context, credential string) (*Identity, error) {
	claims, err := s.parse(credential)
	if err != nil {
		return nil, err
	}

	revoked, err := s.isRevoked(ctx, credential)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevoked
	}

	return &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Email:    claims.UserEmail,
	}, nil
}

// Revoke marks a credential invalid for the rest of its lifetime, in the
// store and in the coordinator cache.
func (s *Service) Revoke(ctx context.Context, credential string) error {
	claims, err := s.parse(credential)
	if errors.Is(err, ErrExpired) {
		return nil // expired credentials block themselves
	}
	if err != nil {
		return err
	}

	expiresAt := claims.ExpiresAt.Time
	if err := s.store.InsertRevokedCredential(ctx, credential, expiresAt); err != nil {
		return fmt.Errorf("failed to persist revocation: %w", err)
	}
	if err := s.cache.MarkRevoked(ctx, credential, time.Until(expiresAt)); err != nil {
		// Cache is advisory; the store row already blocks the credential.
		log.Warn().Err(err).Msg("failed to cache revocation")
	}
	return nil
}

func (s *Service) parse(credential string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(t *jwt.Token) (any, error) {
		// Reject any algorithm but the HMAC we sign with; "none" and
		// asymmetric confusion attacks both die here.
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrBadAlgorithm
		}
		return s.secret, nil
	})
	switch {
	case err == nil && token.Valid:
		return claims, nil
	case errors.Is(err, ErrBadAlgorithm):
		return nil, ErrBadAlgorithm
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	default:
		return nil, ErrInvalidCredential
	}
}

// isRevoked checks the cache first and falls back to the store on a miss; a
// store hit refreshes the cache.
func (s *Service) isRevoked(ctx context.Context, credential string) (bool, error) {
	revoked, err := s.cache.IsRevoked(ctx, credential)
	if err == nil && revoked {
		return true, nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("revocation cache unavailable, falling back to store")
	}

	revoked, err = s.store.LookupRevokedCredential(ctx, credential)
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	if revoked {
		if cerr := s.cache.MarkRevoked(ctx, credential, 24*time.Hour); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to refresh revocation cache")
		}
	}
	return revoked, nil
}
