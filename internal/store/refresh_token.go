package store

import (
	"context"
	"fmt"
	"time"

	"github.com/birdnest/apiserver/internal/db"
	"github.com/birdnest/apiserver/types"
)

// RefreshTokenRepository persists refresh tokens over a db.DBTX.
type RefreshTokenRepository struct {
	db db.DBTX
}

func NewRefreshTokenRepository(q db.DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: q}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token types.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO refresh_tokens (user_id, token, issued_at, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		token.UserID,
		token.Token,
		token.IssuedAt,
		token.ExpiresAt,
		token.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert refresh token: %w", translateError(err))
	}
	return nil
}

// Exists reports whether token is stored and not yet expired.
func (r *RefreshTokenRepository) Exists(ctx context.Context, token string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM refresh_tokens
			WHERE token = $1 AND expires_at > $2
		)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, token, time.Now().UTC()).Scan(&exists); err != nil {
		return false, fmt.Errorf("check refresh token: %w", err)
	}
	return exists, nil
}

func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	const query = `DELETE FROM refresh_tokens WHERE token = $1`
	if _, err := r.db.ExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

// Consume deletes token only if it is still live. Of two concurrent callers
// presenting the same token exactly one sees true.
func (r *RefreshTokenRepository) Consume(ctx context.Context, token string) (bool, error) {
	const query = `DELETE FROM refresh_tokens WHERE token = $1 AND expires_at > $2`
	result, err := r.db.ExecContext(ctx, query, token, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("consume refresh token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// DeleteExpired removes every token that expired at or before before.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return result.RowsAffected()
}
