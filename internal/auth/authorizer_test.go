package auth

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/birdnest/apiserver/config"
	"github.com/birdnest/apiserver/internal/apperr"
	"github.com/birdnest/apiserver/internal/store"
	"github.com/birdnest/apiserver/internal/tokens"
	"github.com/birdnest/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	users   map[string]types.User
	refresh map[string]bool
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (types.User, error) {
	u, ok := f.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeAccounts) GetByEmail(ctx context.Context, email string) (types.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (f *fakeAccounts) RefreshTokenExists(ctx context.Context, token string) (bool, error) {
	return f.refresh[token], nil
}

type fixture struct {
	tokens   *tokens.Service
	accounts *fakeAccounts
	z        *Authorizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	svc := tokens.New(config.TokenConfig{
		AccessSecret:         "a",
		RefreshSecret:        "r",
		VerifyEmailSecret:    "v",
		ForgotPasswordSecret: "f",
		AccessTTL:            time.Minute,
		RefreshTTL:           time.Hour,
		VerifyEmailTTL:       time.Hour,
		ForgotPasswordTTL:    time.Minute,
	})
	accounts := &fakeAccounts{users: map[string]types.User{}, refresh: map[string]bool{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &fixture{tokens: svc, accounts: accounts, z: NewAuthorizer(svc, accounts, logger)}
}

func (f *fixture) sign(t *testing.T, kind tokens.Kind, claims tokens.Claims) string {
	t.Helper()
	tok, err := f.tokens.Sign(kind, claims)
	require.NoError(t, err)
	return tok
}

func (f *fixture) bearer(t *testing.T, userID string, status types.UserStatus) string {
	return "Bearer " + f.sign(t, tokens.Access, tokens.Claims{UserID: userID, Status: status})
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, kind), "want %s, got %v", kind, err)
}

func TestAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.z.Authorize(ctx, ModeAccessToken, Credentials{})
	requireKind(t, err, apperr.AccessTokenRequired)

	_, err = f.z.Authorize(ctx, ModeAccessToken, Credentials{Authorization: "Bearer junk"})
	requireKind(t, err, apperr.InvalidOrExpiredToken)

	a, err := f.z.Authorize(ctx, ModeAccessToken, Credentials{Authorization: f.bearer(t, "u1", types.UserStatusUnverified)})
	require.NoError(t, err)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, types.UserStatusUnverified, a.Status)
	assert.Empty(t, a.RefreshToken)
}

func TestAccess_RejectsOtherKinds(t *testing.T) {
	f := newFixture(t)
	refresh := f.sign(t, tokens.Refresh, tokens.Claims{UserID: "u1"})

	_, err := f.z.Authorize(context.Background(), ModeAccessToken, Credentials{Authorization: "Bearer " + refresh})
	requireKind(t, err, apperr.InvalidOrExpiredToken)
}

func TestOptionalAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.z.Authorize(ctx, ModeOptionalAccessToken, Credentials{})
	require.NoError(t, err)
	assert.False(t, a.Authenticated())

	_, err = f.z.Authorize(ctx, ModeOptionalAccessToken, Credentials{Authorization: "Bearer junk"})
	requireKind(t, err, apperr.InvalidOrExpiredToken)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.sign(t, tokens.Refresh, tokens.Claims{UserID: "u1", Status: types.UserStatusVerified})

	_, err := f.z.Authorize(ctx, ModeRefreshToken, Credentials{})
	requireKind(t, err, apperr.RefreshTokenRequired)

	_, err = f.z.Authorize(ctx, ModeRefreshToken, Credentials{RefreshToken: tok})
	requireKind(t, err, apperr.RefreshTokenNotExisted)

	f.accounts.refresh[tok] = true
	a, err := f.z.Authorize(ctx, ModeRefreshToken, Credentials{RefreshToken: tok})
	require.NoError(t, err)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, tok, a.RefreshToken)
	assert.False(t, a.RefreshExpiresAt.IsZero())
}

func TestAccessAndRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tok := f.sign(t, tokens.Refresh, tokens.Claims{UserID: "u1", Status: types.UserStatusVerified})
	f.accounts.refresh[tok] = true

	_, err := f.z.Authorize(ctx, ModeAccessAndRefreshToken, Credentials{RefreshToken: tok})
	requireKind(t, err, apperr.AccessTokenRequired)

	a, err := f.z.Authorize(ctx, ModeAccessAndRefreshToken, Credentials{
		Authorization: f.bearer(t, "u1", types.UserStatusVerified),
		RefreshToken:  tok,
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", a.UserID)
	assert.Equal(t, tok, a.RefreshToken)
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	verify := f.sign(t, tokens.VerifyEmail, tokens.Claims{UserID: "u1", Status: types.UserStatusUnverified})
	f.accounts.users["u1"] = types.User{ID: "u1", Status: types.UserStatusUnverified, VerifyEmailToken: verify}
	header := f.bearer(t, "u1", types.UserStatusUnverified)

	_, err := f.z.Authorize(ctx, ModeVerifyEmailToken, Credentials{VerifyEmailToken: verify})
	requireKind(t, err, apperr.AccessTokenRequired)

	_, err = f.z.Authorize(ctx, ModeVerifyEmailToken, Credentials{Authorization: header})
	requireKind(t, err, apperr.VerifyEmailTokenRequired)

	a, err := f.z.Authorize(ctx, ModeVerifyEmailToken, Credentials{Authorization: header, VerifyEmailToken: verify})
	require.NoError(t, err)
	assert.Equal(t, "u1", a.UserID)

	stale := f.sign(t, tokens.VerifyEmail, tokens.Claims{UserID: "u1"})
	_, err = f.z.Authorize(ctx, ModeVerifyEmailToken, Credentials{Authorization: header, VerifyEmailToken: stale})
	requireKind(t, err, apperr.VerifyEmailTokenNotExisted)

	f.accounts.users["u1"] = types.User{ID: "u1", Status: types.UserStatusVerified}
	_, err = f.z.Authorize(ctx, ModeVerifyEmailToken, Credentials{Authorization: header, VerifyEmailToken: verify})
	requireKind(t, err, apperr.VerifyEmailTokenNotExisted)
}

func TestVerifyEmail_OtherAccountsToken(t *testing.T) {
	f := newFixture(t)
	verify := f.sign(t, tokens.VerifyEmail, tokens.Claims{UserID: "u2"})
	f.accounts.users["u2"] = types.User{ID: "u2", VerifyEmailToken: verify}

	_, err := f.z.Authorize(context.Background(), ModeVerifyEmailToken, Credentials{
		Authorization:    f.bearer(t, "u1", types.UserStatusUnverified),
		VerifyEmailToken: verify,
	})
	requireKind(t, err, apperr.VerifyEmailTokenNotExisted)
}

func TestVerifyEmail_UnknownAccount(t *testing.T) {
	f := newFixture(t)
	verify := f.sign(t, tokens.VerifyEmail, tokens.Claims{UserID: "ghost"})

	_, err := f.z.Authorize(context.Background(), ModeVerifyEmailToken, Credentials{
		Authorization:    f.bearer(t, "ghost", types.UserStatusUnverified),
		VerifyEmailToken: verify,
	})
	requireKind(t, err, apperr.UserNotExisted)
}

func TestForgotPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	forgot := f.sign(t, tokens.ForgotPassword, tokens.Claims{Email: "a@x.com"})
	f.accounts.users["u1"] = types.User{ID: "u1", Email: "a@x.com", Status: types.UserStatusVerified, ForgotPasswordToken: forgot}

	_, err := f.z.Authorize(ctx, ModeForgotPasswordToken, Credentials{})
	requireKind(t, err, apperr.ForgotPasswordTokenRequired)

	a, err := f.z.Authorize(ctx, ModeForgotPasswordToken, Credentials{ForgotPasswordToken: forgot})
	require.NoError(t, err)
	assert.Equal(t, Authorization{UserID: "u1"}, a)

	f.accounts.users["u1"] = types.User{ID: "u1", Email: "a@x.com"}
	_, err = f.z.Authorize(ctx, ModeForgotPasswordToken, Credentials{ForgotPasswordToken: forgot})
	requireKind(t, err, apperr.ForgotPasswordTokenNotExisted)

	unknown := f.sign(t, tokens.ForgotPassword, tokens.Claims{Email: "b@x.com"})
	_, err = f.z.Authorize(ctx, ModeForgotPasswordToken, Credentials{ForgotPasswordToken: unknown})
	requireKind(t, err, apperr.UserNotExisted)
}

func TestVerifiedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.z.Authorize(ctx, ModeVerifiedUser, Credentials{Authorization: f.bearer(t, "u1", types.UserStatusUnverified)})
	requireKind(t, err, apperr.UserNotVerified)

	a, err := f.z.Authorize(ctx, ModeVerifiedUser, Credentials{Authorization: f.bearer(t, "u1", types.UserStatusVerified)})
	require.NoError(t, err)
	assert.Equal(t, "u1", a.UserID)
}

func TestUnknownMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.z.Authorize(context.Background(), Mode(99), Credentials{})
	require.Error(t, err)
	assert.False(t, apperr.IsKind(err, apperr.InvalidOrExpiredToken))
}

func TestMerge(t *testing.T) {
	exp := time.Now()
	got := merge(
		Authorization{UserID: "u1", Status: types.UserStatusVerified},
		Authorization{RefreshToken: "r", RefreshExpiresAt: exp},
	)
	assert.Equal(t, Authorization{UserID: "u1", Status: types.UserStatusVerified, RefreshToken: "r", RefreshExpiresAt: exp}, got)
}

func TestMiddleware_RestoresBody(t *testing.T) {
	f := newFixture(t)
	tok := f.sign(t, tokens.Refresh, tokens.Claims{UserID: "u1"})
	f.accounts.refresh[tok] = true
	body := `{"refresh_token":"` + tok + `"}`

	var (
		seen    Authorization
		gotBody string
	)
	h := f.z.Middleware(ModeRefreshToken)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", seen.UserID)
	assert.Equal(t, body, gotBody)
}

func TestMiddleware_WritesError(t *testing.T) {
	f := newFixture(t)
	called := false
	h := f.z.Middleware(ModeAccessToken)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Access token is required")
}
