package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/birdnest/apiserver/internal/db"
	"github.com/birdnest/apiserver/internal/store"
	"github.com/birdnest/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ store.Manager = (*Store)(nil)

func TestUsers_Uniqueness(t *testing.T) {
	ctx := context.Background()
	s := New()
	users := s.Users(nil)

	_, err := users.Create(ctx, types.User{ID: "1", Email: "a@x.com", Username: "a"})
	require.NoError(t, err)

	_, err = users.Create(ctx, types.User{ID: "2", Email: "a@x.com", Username: "b"})
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, store.ConstraintUsersEmail, store.ConflictConstraint(err))

	_, err = users.Create(ctx, types.User{ID: "3", Email: "c@x.com", Username: "a"})
	assert.Equal(t, store.ConstraintUsersUsername, store.ConflictConstraint(err))

	got, err := users.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)

	_, err = users.GetByUsername(ctx, "nobody")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsers_UpdateProfileKeepsUnsetFields(t *testing.T) {
	ctx := context.Background()
	s := New()
	users := s.Users(nil)
	_, err := users.Create(ctx, types.User{ID: "1", Email: "a@x.com", Username: "a", Name: "Ann", Bio: "old"})
	require.NoError(t, err)

	bio := "new"
	got, err := users.UpdateProfile(ctx, "1", types.ProfileUpdate{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, "new", got.Bio)

	_, err = users.UpdateProfile(ctx, "missing", types.ProfileUpdate{Bio: &bio})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRefreshTokens_ExpiryAndConsume(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New()
	s.SetClock(func() time.Time { return now })
	tokens := s.RefreshTokens(nil)

	require.NoError(t, tokens.Create(ctx, types.RefreshToken{UserID: "1", Token: "live", ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, tokens.Create(ctx, types.RefreshToken{UserID: "1", Token: "stale", ExpiresAt: now.Add(-time.Second)}))

	ok, err := tokens.Exists(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, ok)

	consumed, err := tokens.Consume(ctx, "live")
	require.NoError(t, err)
	assert.True(t, consumed)
	consumed, err = tokens.Consume(ctx, "live")
	require.NoError(t, err)
	assert.False(t, consumed)

	n, err := tokens.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Zero(t, s.TokenCount())

	require.NoError(t, tokens.Delete(ctx, "never-existed"))
}

func TestFollowers_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	f := s.Followers(nil)

	created, err := f.Create(ctx, types.Follow{FollowerID: "a", FollowedID: "b"})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = f.Create(ctx, types.Follow{FollowerID: "a", FollowedID: "b"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, s.EdgeCount())

	_, err = f.Create(ctx, types.Follow{FollowerID: "a", FollowedID: "a"})
	require.Error(t, err)

	require.NoError(t, f.Delete(ctx, "a", "b"))
	require.NoError(t, f.Delete(ctx, "a", "b"))
	assert.Zero(t, s.EdgeCount())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, q db.DBTX) error {
		if _, err := s.Users(q).Create(ctx, types.User{ID: "1", Email: "a@x.com", Username: "a"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, s.UserCount())
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := New()

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(ctx context.Context, q db.DBTX) error {
			_, _ = s.Users(q).Create(ctx, types.User{ID: "1", Email: "a@x.com", Username: "a"})
			panic("kaboom")
		})
	})
	assert.Zero(t, s.UserCount())
}

func TestFailNext(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.FailNext("RefreshTokens.Create", boom)

	tokens := s.RefreshTokens(nil)
	require.ErrorIs(t, tokens.Create(ctx, types.RefreshToken{Token: "t"}), boom)
	require.NoError(t, tokens.Create(ctx, types.RefreshToken{Token: "t"}))
}
