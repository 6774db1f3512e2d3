package store

import (
	"context"
	"fmt"
	"time"

	"github.com/birdnest/apiserver/internal/db"
	"github.com/birdnest/apiserver/types"
)

// FollowerRepository persists follow edges.
type FollowerRepository struct {
	db db.DBTX
}

func NewFollowerRepository(q db.DBTX) *FollowerRepository {
	return &FollowerRepository{db: q}
}

func (r *FollowerRepository) Exists(ctx context.Context, followerID, followedID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM followers
			WHERE follower_id = $1 AND followed_id = $2
		)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, followerID, followedID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check follow: %w", err)
	}
	return exists, nil
}

// Create relies on the (follower_id, followed_id) primary key so concurrent
// follows of the same pair leave a single edge.
func (r *FollowerRepository) Create(ctx context.Context, follow types.Follow) (bool, error) {
	if follow.CreatedAt.IsZero() {
		follow.CreatedAt = time.Now().UTC()
	}
	const query = `
		INSERT INTO followers (follower_id, followed_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (follower_id, followed_id) DO NOTHING`
	result, err := r.db.ExecContext(ctx, query, follow.FollowerID, follow.FollowedID, follow.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert follow: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *FollowerRepository) Delete(ctx context.Context, followerID, followedID string) error {
	const query = `DELETE FROM followers WHERE follower_id = $1 AND followed_id = $2`
	if _, err := r.db.ExecContext(ctx, query, followerID, followedID); err != nil {
		return fmt.Errorf("delete follow: %w", err)
	}
	return nil
}
