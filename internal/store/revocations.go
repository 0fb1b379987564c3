package store

import (
	"context"
	"fmt"
	"time"
)

// InsertRevokedCredential marks a bearer credential as no longer valid. The
// row carries its own expiry so cleanup can drop it once the credential would
// have expired anyway.
func (q *Queries) InsertRevokedCredential(ctx context.Context, credential string, expiresAt time.Time) error {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	_, err := q.db.Exec(ctx, `
		INSERT INTO revoked_credentials (credential, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (credential) DO NOTHING`,
		credential, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert revoked credential: %w", err)
	}
	return nil
}

// LookupRevokedCredential reports whether a credential is in the revocation
// set. Expired rows no longer block: the credential itself is expired by then.
func (q *Queries) LookupRevokedCredential(ctx context.Context, credential string) (bool, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	var revoked bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM revoked_credentials
			WHERE credential = $1 AND expires_at > now()
		)`, credential).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("failed to look up revoked credential: %w", err)
	}
	return revoked, nil
}

// CleanupExpiredRevocations deletes revocation rows whose credential has
// expired and returns how many were dropped.
func (q *Queries) CleanupExpiredRevocations(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := withDeadline(ctx)
	defer cancel()

	tag, err := q.db.Exec(ctx,
		`DELETE FROM revoked_credentials WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up revocations: %w", err)
	}
	return tag.RowsAffected(), nil
}
