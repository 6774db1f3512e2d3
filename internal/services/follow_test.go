package services

import (
	"context"
	"testing"

	"github.com/birdnest/apiserver/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFollow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ann := e.register(t, "a@x.com", "ann", "Aa1!aaaa").User
	bob := e.register(t, "b@x.com", "bob", "Bb2@bbbb").User

	created, err := e.follows.Follow(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = e.follows.Follow(ctx, ann.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, e.store.EdgeCount())

	_, err = e.follows.Follow(ctx, ann.ID, ann.ID)
	requireKind(t, err, apperr.CannotFollowYourself)

	_, err = e.follows.Follow(ctx, ann.ID, "ghost")
	requireKind(t, err, apperr.UserNotExisted)
	assert.Equal(t, 1, e.store.EdgeCount())
}

func TestFollow_SelfCheckedBeforeLookup(t *testing.T) {
	e := newEnv(t)
	_, err := e.follows.Follow(context.Background(), "ghost", "ghost")
	requireKind(t, err, apperr.CannotFollowYourself)
}

func TestUnfollow_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ann := e.register(t, "a@x.com", "ann", "Aa1!aaaa").User
	bob := e.register(t, "b@x.com", "bob", "Bb2@bbbb").User

	_, err := e.follows.Follow(ctx, ann.ID, bob.ID)
	require.NoError(t, err)

	require.NoError(t, e.follows.Unfollow(ctx, ann.ID, bob.ID))
	require.NoError(t, e.follows.Unfollow(ctx, ann.ID, bob.ID))
	assert.Zero(t, e.store.EdgeCount())

	requireKind(t, e.follows.Unfollow(ctx, ann.ID, "ghost"), apperr.UserNotExisted)
}

func TestGetProfile_RelationshipFlags(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ann := e.register(t, "a@x.com", "ann", "Aa1!aaaa").User
	bob := e.register(t, "b@x.com", "bob", "Bb2@bbbb").User

	_, err := e.follows.Follow(ctx, ann.ID, bob.ID)
	require.NoError(t, err)

	profile, err := e.accounts.GetProfile(ctx, "bob", ann.ID)
	require.NoError(t, err)
	require.NotNil(t, profile.IsFollowing)
	require.NotNil(t, profile.IsFollowedBy)
	assert.True(t, *profile.IsFollowing)
	assert.False(t, *profile.IsFollowedBy)

	profile, err = e.accounts.GetProfile(ctx, "ann", bob.ID)
	require.NoError(t, err)
	assert.False(t, *profile.IsFollowing)
	assert.True(t, *profile.IsFollowedBy)

	profile, err = e.accounts.GetProfile(ctx, "bob", "")
	require.NoError(t, err)
	assert.Nil(t, profile.IsFollowing)

	profile, err = e.accounts.GetProfile(ctx, "bob", bob.ID)
	require.NoError(t, err)
	assert.Nil(t, profile.IsFollowing)

	_, err = e.accounts.GetProfile(ctx, "nobody", ann.ID)
	requireKind(t, err, apperr.UserNotExisted)
}
