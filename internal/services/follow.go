package services

import (
	"context"

	"github.com/birdnest/apiserver/internal/apperr"
	"github.com/birdnest/apiserver/internal/store"
	"github.com/birdnest/apiserver/types"
)

// FollowService maintains the directed follow graph.
type FollowService struct {
	tx     Transactor
	stores store.Manager
}

func NewFollowService(tx Transactor, stores store.Manager) *FollowService {
	return &FollowService{tx: tx, stores: stores}
}

// Follow adds the edge actor -> target. It reports whether a new edge was
// written; following an already followed account is a no-op.
func (s *FollowService) Follow(ctx context.Context, actorID, targetID string) (bool, error) {
	if actorID == targetID {
		return false, apperr.New(apperr.CannotFollowYourself)
	}
	conn := s.tx.Conn()
	if _, err := s.stores.Users(conn).GetByID(ctx, targetID); err != nil {
		return false, notFound(err)
	}

	followers := s.stores.Followers(conn)
	exists, err := followers.Exists(ctx, actorID, targetID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	// Concurrent follows of the same pair can both get here; the store keeps
	// one edge and reports false to the loser.
	return followers.Create(ctx, types.Follow{FollowerID: actorID, FollowedID: targetID})
}

// Unfollow removes the edge actor -> target if there is one.
func (s *FollowService) Unfollow(ctx context.Context, actorID, targetID string) error {
	conn := s.tx.Conn()
	if _, err := s.stores.Users(conn).GetByID(ctx, targetID); err != nil {
		return notFound(err)
	}
	return s.stores.Followers(conn).Delete(ctx, actorID, targetID)
}
