package sessions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/md-rashed-zaman/mspharm/libs/db"
)

var ErrNotFound = errors.New("refresh token not found")

// RefreshToken is stored by hash only; the raw value never reaches the table.
type RefreshToken struct {
	Hash        string
	SubjectID   string
	SubjectKind string
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// Usable reports whether the token can still be exchanged at now.
func (t RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

type RefreshRepository struct {
	pool *db.Pool
}

func NewRefreshRepository(pool *db.Pool) *RefreshRepository {
	return &RefreshRepository{pool: pool}
}

func (r *RefreshRepository) Create(ctx context.Context, subjectID, kind, rawToken string, expiresAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (token_hash, subject_id, subject_kind, expires_at)
		VALUES ($1, $2, $3, $4)
	`, HashToken(rawToken), subjectID, kind, expiresAt)
	return err
}

func (r *RefreshRepository) Get(ctx context.Context, rawToken string) (RefreshToken, error) {
	var t RefreshToken
	err := r.pool.QueryRow(ctx, `
		SELECT token_hash, subject_id::text, subject_kind, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, HashToken(rawToken)).Scan(&t.Hash, &t.SubjectID, &t.SubjectKind, &t.ExpiresAt, &t.RevokedAt)
	if db.IsNotFound(err) {
		return RefreshToken{}, ErrNotFound
	}
	return t, err
}

// Revoke marks the token used; revoking twice is a no-op.
func (r *RefreshRepository) Revoke(ctx context.Context, hash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, hash)
	return err
}

// RevokeSubject ends every live session of one subject.
func (r *RefreshRepository) RevokeSubject(ctx context.Context, subjectID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE subject_id = $1 AND revoked_at IS NULL
	`, subjectID)
	return err
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
