// Package memstore is an in-process implementation of the store interfaces.
// It backs STORE_BACKEND=memory for local development and the unit tests of
// the packages built on top of the store.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/birdnest/apiserver/internal/db"
	"github.com/birdnest/apiserver/internal/store"
	"github.com/birdnest/apiserver/types"
)

type edge struct {
	follower string
	followed string
}

// Store holds every record in memory. The zero value is not usable; call New.
type Store struct {
	mu       sync.Mutex
	users    map[string]types.User
	tokens   map[string]types.RefreshToken
	follows  map[edge]types.Follow
	failures map[string]error

	// txMu serializes transactions so a rollback never discards another
	// transaction's writes.
	txMu sync.Mutex

	now func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[string]types.User),
		tokens:   make(map[string]types.RefreshToken),
		follows:  make(map[edge]types.Follow),
		failures: make(map[string]error),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for expiry checks.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailNext makes the next call to op return err. op is "<Repo>.<Method>",
// for example "RefreshTokens.Create".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) injected(op string) error {
	err, ok := s.failures[op]
	if ok {
		delete(s.failures, op)
	}
	return err
}

// Users, RefreshTokens and Followers satisfy store.Manager. The handle is
// ignored: every repository operates on the same maps.
func (s *Store) Users(db.DBTX) store.Users { return &users{s: s} }

func (s *Store) RefreshTokens(db.DBTX) store.RefreshTokens { return &refreshTokens{s: s} }

func (s *Store) Followers(db.DBTX) store.Followers { return &followers{s: s} }

// Conn returns a nil handle; the memory repositories do not use one.
func (s *Store) Conn() db.DBTX { return nil }

// WithTx runs fn against the store and restores the previous contents if fn
// returns an error or panics.
func (s *Store) WithTx(ctx context.Context, fn db.TxFunc) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, nil)
}

type snapshot struct {
	users   map[string]types.User
	tokens  map[string]types.RefreshToken
	follows map[edge]types.Follow
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		users:   make(map[string]types.User, len(s.users)),
		tokens:  make(map[string]types.RefreshToken, len(s.tokens)),
		follows: make(map[edge]types.Follow, len(s.follows)),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.tokens {
		snap.tokens[k] = v
	}
	for k, v := range s.follows {
		snap.follows[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = snap.users
	s.tokens = snap.tokens
	s.follows = snap.follows
}

// UserCount, TokenCount and EdgeCount report how many records are held.
func (s *Store) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

func (s *Store) TokenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *Store) EdgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.follows)
}

type users struct{ s *Store }

func (r *users) find(match func(types.User) bool) (types.User, error) {
	for _, u := range r.s.users {
		if match(u) {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *users) GetByID(ctx context.Context, id string) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Users.GetByID"); err != nil {
		return types.User{}, err
	}
	u, ok := r.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r *users) GetByEmail(ctx context.Context, email string) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Users.GetByEmail"); err != nil {
		return types.User{}, err
	}
	return r.find(func(u types.User) bool { return u.Email == email })
}

func (r *users) GetByUsername(ctx context.Context, username string) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Users.GetByUsername"); err != nil {
		return types.User{}, err
	}
	return r.find(func(u types.User) bool { return u.Username == username })
}

func (r *users) Create(ctx context.Context, user types.User) (types.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Users.Create"); err != nil {
		return types.User{}, err
	}
	for _, u := range r.s.users {
		if u.ID == user.ID {
			return types.User{}, &store.ConflictError{Constraint: "users_pkey", Err: errors.New("duplicate id")}
		}
		if u.Email == user.Email {
			return types.User{}, &store.ConflictError{Constraint: store.ConstraintUsersEmail, Err: errors.New("duplicate email")}
		}
		if u.Username == user.Username {
			return types.User{}, &store.ConflictError{Constraint: store.ConstraintUsersUsername, Err: errors.New("duplicate username")}
		}
	}
	now := r.s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.s.users[user.ID] = user
	return user, nil
}

func (r *users) update(op, id string, fn func(*types.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected(op); err != nil {
		return err
	}
	u, ok := r.s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = r.s.now()
	r.s.users[id] = u
	return nil
}

func (r *users) MarkVerified(ctx context.Context, id string) error {
	return r.update("Users.MarkVerified", id, func(u *types.User) {
		u.Status = types.UserStatusVerified
		u.VerifyEmailToken = ""
	})
}

func (r *users) SetVerifyEmailToken(ctx context.Context, id, token string) error {
	return r.update("Users.SetVerifyEmailToken", id, func(u *types.User) {
		u.VerifyEmailToken = token
	})
}

func (r *users) SetForgotPasswordToken(ctx context.Context, id, token string) error {
	return r.update("Users.SetForgotPasswordToken", id, func(u *types.User) {
		u.ForgotPasswordToken = token
	})
}

func (r *users) ResetPassword(ctx context.Context, id, passwordHash string) error {
	return r.update("Users.ResetPassword", id, func(u *types.User) {
		u.PasswordHash = passwordHash
		u.ForgotPasswordToken = ""
	})
}

func (r *users) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.update("Users.UpdatePassword", id, func(u *types.User) {
		u.PasswordHash = passwordHash
	})
}

func (r *users) UpdateProfile(ctx context.Context, id string, patch types.ProfileUpdate) (types.User, error) {
	if err := r.update("Users.UpdateProfile", id, patch.Apply); err != nil {
		return types.User{}, err
	}
	return r.GetByID(ctx, id)
}

type refreshTokens struct{ s *Store }

func (r *refreshTokens) Create(ctx context.Context, token types.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("RefreshTokens.Create"); err != nil {
		return err
	}
	if _, ok := r.s.tokens[token.Token]; ok {
		return &store.ConflictError{Constraint: "refresh_tokens_token_key", Err: errors.New("duplicate token")}
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = r.s.now()
	}
	r.s.tokens[token.Token] = token
	return nil
}

func (r *refreshTokens) live(token string) bool {
	rec, ok := r.s.tokens[token]
	return ok && rec.ExpiresAt.After(r.s.now())
}

func (r *refreshTokens) Exists(ctx context.Context, token string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("RefreshTokens.Exists"); err != nil {
		return false, err
	}
	return r.live(token), nil
}

func (r *refreshTokens) Delete(ctx context.Context, token string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("RefreshTokens.Delete"); err != nil {
		return err
	}
	delete(r.s.tokens, token)
	return nil
}

func (r *refreshTokens) Consume(ctx context.Context, token string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("RefreshTokens.Consume"); err != nil {
		return false, err
	}
	if !r.live(token) {
		return false, nil
	}
	delete(r.s.tokens, token)
	return true, nil
}

func (r *refreshTokens) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("RefreshTokens.DeleteExpired"); err != nil {
		return 0, err
	}
	var n int64
	for k, rec := range r.s.tokens {
		if !rec.ExpiresAt.After(before) {
			delete(r.s.tokens, k)
			n++
		}
	}
	return n, nil
}

type followers struct{ s *Store }

func (r *followers) Exists(ctx context.Context, followerID, followedID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Followers.Exists"); err != nil {
		return false, err
	}
	_, ok := r.s.follows[edge{followerID, followedID}]
	return ok, nil
}

func (r *followers) Create(ctx context.Context, follow types.Follow) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Followers.Create"); err != nil {
		return false, err
	}
	if follow.FollowerID == follow.FollowedID {
		return false, errors.New("followers_check: self edge")
	}
	key := edge{follow.FollowerID, follow.FollowedID}
	if _, ok := r.s.follows[key]; ok {
		return false, nil
	}
	if follow.CreatedAt.IsZero() {
		follow.CreatedAt = r.s.now()
	}
	r.s.follows[key] = follow
	return true, nil
}

func (r *followers) Delete(ctx context.Context, followerID, followedID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.injected("Followers.Delete"); err != nil {
		return err
	}
	delete(r.s.follows, edge{followerID, followedID})
	return nil
}
