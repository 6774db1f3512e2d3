package store

import (
	"context"
	"time"

	"github.com/birdnest/apiserver/internal/db"
	"github.com/birdnest/apiserver/types"
)

// Constraint names from the init migration, used to tell conflicts apart.
const (
	ConstraintUsersEmail    = "users_email_key"
	ConstraintUsersUsername = "users_username_key"
)

// Users persists accounts.
type Users interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	MarkVerified(ctx context.Context, id string) error
	SetVerifyEmailToken(ctx context.Context, id, token string) error
	SetForgotPasswordToken(ctx context.Context, id, token string) error
	ResetPassword(ctx context.Context, id, passwordHash string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	UpdateProfile(ctx context.Context, id string, patch types.ProfileUpdate) (types.User, error)
}

// RefreshTokens persists issued refresh tokens. A row past its expiry is
// treated as absent by every read.
type RefreshTokens interface {
	Create(ctx context.Context, token types.RefreshToken) error
	Exists(ctx context.Context, token string) (bool, error)
	// Delete removes token; deleting an absent token is not an error.
	Delete(ctx context.Context, token string) error
	// Consume deletes a live token and reports whether it was there.
	Consume(ctx context.Context, token string) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Followers persists the directed follow graph.
type Followers interface {
	Exists(ctx context.Context, followerID, followedID string) (bool, error)
	// Create inserts the edge and reports whether it was new.
	Create(ctx context.Context, follow types.Follow) (bool, error)
	Delete(ctx context.Context, followerID, followedID string) error
}

// Manager vends repositories bound to a handle, which is either the shared
// pool or an open transaction.
type Manager interface {
	Users(q db.DBTX) Users
	RefreshTokens(q db.DBTX) RefreshTokens
	Followers(q db.DBTX) Followers
}

// PostgresManager vends the Postgres-backed repositories.
type PostgresManager struct{}

func NewPostgresManager() *PostgresManager {
	return &PostgresManager{}
}

func (m *PostgresManager) Users(q db.DBTX) Users {
	return NewUserRepository(q)
}

func (m *PostgresManager) RefreshTokens(q db.DBTX) RefreshTokens {
	return NewRefreshTokenRepository(q)
}

func (m *PostgresManager) Followers(q db.DBTX) Followers {
	return NewFollowerRepository(q)
}
