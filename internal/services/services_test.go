package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/birdnest/apiserver/config"
	"github.com/birdnest/apiserver/internal/auth"
	"github.com/birdnest/apiserver/internal/oauth"
	"github.com/birdnest/apiserver/internal/password"
	"github.com/birdnest/apiserver/internal/store/memstore"
	"github.com/birdnest/apiserver/internal/tokens"
	"github.com/birdnest/apiserver/types"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []types.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, msg types.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) last() types.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return types.Notification{}
	}
	return n.sent[len(n.sent)-1]
}

type fakeIdentity struct {
	identities map[string]oauth.Identity
}

func (f *fakeIdentity) Identity(ctx context.Context, code string) (oauth.Identity, error) {
	id, ok := f.identities[code]
	if !ok {
		return oauth.Identity{}, oauth.ErrInvalidCode
	}
	return id, nil
}

type env struct {
	store    *memstore.Store
	tokens   *tokens.Service
	notifier *recordingNotifier
	identity *fakeIdentity
	accounts *AccountService
	follows  *FollowService
	authz    *auth.Authorizer
	logger   *slog.Logger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s := memstore.New()
	tok := tokens.New(config.TokenConfig{
		AccessSecret:         "access",
		RefreshSecret:        "refresh",
		VerifyEmailSecret:    "verify",
		ForgotPasswordSecret: "forgot",
		AccessTTL:            15 * time.Minute,
		RefreshTTL:           100 * 24 * time.Hour,
		VerifyEmailTTL:       7 * 24 * time.Hour,
		ForgotPasswordTTL:    15 * time.Minute,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := &recordingNotifier{}
	identity := &fakeIdentity{identities: map[string]oauth.Identity{}}

	accounts := NewAccountService(AccountDeps{
		Tx:       s,
		Stores:   s,
		Tokens:   tok,
		Hasher:   password.NewBcrypt(bcrypt.MinCost),
		Notifier: notifier,
		Identity: identity,
		Logger:   logger,
	})
	return &env{
		store:    s,
		tokens:   tok,
		notifier: notifier,
		identity: identity,
		accounts: accounts,
		follows:  NewFollowService(s, s),
		authz:    auth.NewAuthorizer(tok, accounts, logger),
		logger:   logger,
	}
}

func (e *env) register(t *testing.T, email, username, plain string) AuthResult {
	t.Helper()
	res, err := e.accounts.Register(context.Background(), RegisterInput{
		Email:    email,
		Username: username,
		Password: plain,
		Name:     username,
	})
	require.NoError(t, err)
	return res
}

// refreshAuth runs the refresh-token check the way the middleware would.
func (e *env) refreshAuth(t *testing.T, refreshToken string) (auth.Authorization, error) {
	t.Helper()
	return e.authz.Authorize(context.Background(), auth.ModeRefreshToken, auth.Credentials{RefreshToken: refreshToken})
}
