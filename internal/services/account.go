package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/birdnest/apiserver/internal/apperr"
	"github.com/birdnest/apiserver/internal/auth"
	"github.com/birdnest/apiserver/internal/db"
	"github.com/birdnest/apiserver/internal/oauth"
	"github.com/birdnest/apiserver/internal/password"
	"github.com/birdnest/apiserver/internal/store"
	"github.com/birdnest/apiserver/internal/tokens"
	"github.com/birdnest/apiserver/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Transactor hands out the shared handle and runs units of work in a
// transaction. *db.Transactor and *memstore.Store implement it.
type Transactor interface {
	Conn() db.DBTX
	WithTx(ctx context.Context, fn db.TxFunc) error
}

// TokenIssuer mints signed tokens.
type TokenIssuer interface {
	Issue(kind tokens.Kind, claims tokens.Claims, opts ...tokens.SignOption) (tokens.Issued, error)
}

// IdentityProvider resolves an authorization code to an external identity.
type IdentityProvider interface {
	Identity(ctx context.Context, code string) (oauth.Identity, error)
}

// AccountDeps are the collaborators of AccountService. Notifier and Identity
// may be nil.
type AccountDeps struct {
	Tx       Transactor
	Stores   store.Manager
	Tokens   TokenIssuer
	Hasher   password.Hasher
	Notifier Notifier
	Identity IdentityProvider
	Logger   *slog.Logger
}

// AccountService implements registration, login, session rotation, email
// verification, password recovery and profile management.
type AccountService struct {
	tx       Transactor
	stores   store.Manager
	tokens   TokenIssuer
	hasher   password.Hasher
	notifier Notifier
	identity IdentityProvider
	logger   *slog.Logger
}

func NewAccountService(deps AccountDeps) *AccountService {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	return &AccountService{
		tx:       deps.Tx,
		stores:   deps.Stores,
		tokens:   deps.Tokens,
		hasher:   deps.Hasher,
		notifier: notifier,
		identity: deps.Identity,
		logger:   logger,
	}
}

// RegisterInput is a validated registration request.
type RegisterInput struct {
	Email       string
	Username    string
	Password    string
	Name        string
	DateOfBirth *time.Time
}

// AuthResult is a minted token pair and the redacted account it belongs to.
type AuthResult struct {
	Tokens types.TokenPair
	User   types.User
}

// VerifyEmailResult reports the outcome of VerifyEmail. Tokens is empty when
// AlreadyVerified is set.
type VerifyEmailResult struct {
	AlreadyVerified bool
	Tokens          types.TokenPair
}

// Register creates an unverified account and opens its first session. The
// account and its refresh token are written in one transaction.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	id := uuid.NewString()

	verify, err := s.tokens.Issue(tokens.VerifyEmail, tokens.Claims{
		UserID: id,
		Status: types.UserStatusUnverified,
	})
	if err != nil {
		return AuthResult{}, err
	}
	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AuthResult{}, err
	}

	user := types.User{
		ID:               id,
		Email:            in.Email,
		Username:         in.Username,
		PasswordHash:     digest,
		Status:           types.UserStatusUnverified,
		VerifyEmailToken: verify.Token,
		Name:             in.Name,
		DateOfBirth:      in.DateOfBirth,
	}

	var result AuthResult
	err = s.tx.WithTx(ctx, func(ctx context.Context, q db.DBTX) error {
		created, err := s.stores.Users(q).Create(ctx, user)
		if err != nil {
			return conflictError(err)
		}
		pair, err := s.mintPair(ctx, q, created)
		if err != nil {
			return err
		}
		result = AuthResult{Tokens: pair, User: created}
		return nil
	})
	if err != nil {
		return AuthResult{}, err
	}

	s.notify(ctx, types.Notification{
		Type:   types.NotificationVerifyEmail,
		UserID: result.User.ID,
		Email:  result.User.Email,
		Token:  verify.Token,
	})
	return result, nil
}

// Login checks credentials. A false result with a nil error is a failed
// login, not a failure of the service.
func (s *AccountService) Login(ctx context.Context, email, plain string) (AuthResult, bool, error) {
	user, err := s.stores.Users(s.tx.Conn()).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AuthResult{}, false, nil
		}
		return AuthResult{}, false, err
	}
	if err := s.hasher.Compare(user.PasswordHash, plain); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return AuthResult{}, false, nil
		}
		return AuthResult{}, false, err
	}

	pair, err := s.mintPair(ctx, s.tx.Conn(), user)
	if err != nil {
		return AuthResult{}, false, err
	}
	return AuthResult{Tokens: pair, User: user}, true, nil
}

// LoginWithGoogle signs in the local account matching the Google identity,
// registering one first if none exists. The boolean reports a new account.
func (s *AccountService) LoginWithGoogle(ctx context.Context, code string) (AuthResult, bool, error) {
	if s.identity == nil {
		return AuthResult{}, false, errors.New("federated login is not configured")
	}
	identity, err := s.identity.Identity(ctx, code)
	if err != nil {
		if errors.Is(err, oauth.ErrInvalidCode) {
			return AuthResult{}, false, apperr.Wrap(apperr.InvalidOAuthCode, err)
		}
		return AuthResult{}, false, err
	}
	if identity.Email == "" {
		return AuthResult{}, false, apperr.New(apperr.InvalidOAuthCode)
	}

	user, err := s.stores.Users(s.tx.Conn()).GetByEmail(ctx, identity.Email)
	switch {
	case err == nil:
		pair, err := s.mintPair(ctx, s.tx.Conn(), user)
		if err != nil {
			return AuthResult{}, false, err
		}
		return AuthResult{Tokens: pair, User: user}, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return AuthResult{}, false, err
	}

	name := identity.Name
	if name == "" {
		name = localPart(identity.Email)
	}
	result, err := s.Register(ctx, RegisterInput{
		Email:    identity.Email,
		Username: federatedUsername(identity.Email),
		Password: uuid.NewString(),
		Name:     name,
	})
	if err != nil {
		return AuthResult{}, false, err
	}
	return result, true, nil
}

// Refresh consumes the presented refresh token and opens a new session that
// keeps the old expiry. Both happen in one transaction.
func (s *AccountService) Refresh(ctx context.Context, a auth.Authorization) (types.TokenPair, error) {
	var pair types.TokenPair
	err := s.tx.WithTx(ctx, func(ctx context.Context, q db.DBTX) error {
		consumed, err := s.stores.RefreshTokens(q).Consume(ctx, a.RefreshToken)
		if err != nil {
			return err
		}
		if !consumed {
			return apperr.New(apperr.RefreshTokenNotExisted)
		}
		user, err := s.stores.Users(q).GetByID(ctx, a.UserID)
		if err != nil {
			return notFound(err)
		}
		var opts []tokens.SignOption
		if !a.RefreshExpiresAt.IsZero() {
			opts = append(opts, tokens.WithExpiresAt(a.RefreshExpiresAt))
		}
		pair, err = s.mintPair(ctx, q, user, opts...)
		return err
	})
	if err != nil {
		return types.TokenPair{}, err
	}
	return pair, nil
}

// Logout revokes refreshToken. Revoking an unknown token is not an error.
func (s *AccountService) Logout(ctx context.Context, refreshToken string) error {
	return s.stores.RefreshTokens(s.tx.Conn()).Delete(ctx, refreshToken)
}

// VerifyEmail marks the account verified and opens a session carrying the
// new status. An account with no pending token reports AlreadyVerified.
func (s *AccountService) VerifyEmail(ctx context.Context, userID string) (VerifyEmailResult, error) {
	var result VerifyEmailResult
	err := s.tx.WithTx(ctx, func(ctx context.Context, q db.DBTX) error {
		users := s.stores.Users(q)
		user, err := users.GetByID(ctx, userID)
		if err != nil {
			return notFound(err)
		}
		if user.VerifyEmailToken == "" {
			result.AlreadyVerified = true
			return nil
		}
		if err := users.MarkVerified(ctx, userID); err != nil {
			return notFound(err)
		}
		user.Status = types.UserStatusVerified
		user.VerifyEmailToken = ""
		result.Tokens, err = s.mintPair(ctx, q, user)
		return err
	})
	if err != nil {
		return VerifyEmailResult{}, err
	}
	return result, nil
}

// ResendVerifyEmail replaces the pending verify-email token, invalidating the
// previous one. It returns false when the account is already verified.
func (s *AccountService) ResendVerifyEmail(ctx context.Context, userID string) (bool, error) {
	users := s.stores.Users(s.tx.Conn())
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		return false, notFound(err)
	}
	if user.VerifyEmailToken == "" {
		return false, nil
	}

	verify, err := s.tokens.Issue(tokens.VerifyEmail, tokens.Claims{UserID: user.ID, Status: user.Status})
	if err != nil {
		return false, err
	}
	if err := users.SetVerifyEmailToken(ctx, user.ID, verify.Token); err != nil {
		return false, notFound(err)
	}

	s.notify(ctx, types.Notification{
		Type:   types.NotificationVerifyEmail,
		UserID: user.ID,
		Email:  user.Email,
		Token:  verify.Token,
	})
	return true, nil
}

// ForgotPassword stores a new forgot-password token for the account, replacing
// any earlier one.
func (s *AccountService) ForgotPassword(ctx context.Context, email string) error {
	users := s.stores.Users(s.tx.Conn())
	user, err := users.GetByEmail(ctx, email)
	if err != nil {
		return notFound(err)
	}

	forgot, err := s.tokens.Issue(tokens.ForgotPassword, tokens.Claims{Email: user.Email})
	if err != nil {
		return err
	}
	if err := users.SetForgotPasswordToken(ctx, user.ID, forgot.Token); err != nil {
		return notFound(err)
	}

	s.notify(ctx, types.Notification{
		Type:   types.NotificationForgotPassword,
		UserID: user.ID,
		Email:  user.Email,
		Token:  forgot.Token,
	})
	return nil
}

// ResetPassword sets a new password and consumes the forgot-password token.
func (s *AccountService) ResetPassword(ctx context.Context, userID, newPassword string) error {
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return notFound(s.stores.Users(s.tx.Conn()).ResetPassword(ctx, userID, digest))
}

// ChangePassword replaces the password after checking the current one.
// Other sessions stay open.
func (s *AccountService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	users := s.stores.Users(s.tx.Conn())
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		return notFound(err)
	}
	if err := s.hasher.Compare(user.PasswordHash, oldPassword); err != nil {
		if errors.Is(err, password.ErrMismatch) {
			return apperr.New(apperr.PasswordNotMatch)
		}
		return err
	}
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return notFound(users.UpdatePassword(ctx, userID, digest))
}

func (s *AccountService) GetMe(ctx context.Context, userID string) (types.User, error) {
	user, err := s.stores.Users(s.tx.Conn()).GetByID(ctx, userID)
	if err != nil {
		return types.User{}, notFound(err)
	}
	return user, nil
}

// UpdateMe applies the defined fields of patch.
func (s *AccountService) UpdateMe(ctx context.Context, userID string, patch types.ProfileUpdate) (types.User, error) {
	if patch.Empty() {
		return s.GetMe(ctx, userID)
	}
	user, err := s.stores.Users(s.tx.Conn()).UpdateProfile(ctx, userID, patch)
	if err != nil {
		return types.User{}, notFound(err)
	}
	return user, nil
}

// GetProfile returns the account named username. When viewerID is another
// account the relationship flags are filled in.
func (s *AccountService) GetProfile(ctx context.Context, username, viewerID string) (types.Profile, error) {
	conn := s.tx.Conn()
	user, err := s.stores.Users(conn).GetByUsername(ctx, username)
	if err != nil {
		return types.Profile{}, notFound(err)
	}
	profile := types.Profile{User: user}
	if viewerID == "" || viewerID == user.ID {
		return profile, nil
	}

	followers := s.stores.Followers(conn)
	var following, followedBy bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		following, err = followers.Exists(gctx, viewerID, user.ID)
		return err
	})
	g.Go(func() error {
		var err error
		followedBy, err = followers.Exists(gctx, user.ID, viewerID)
		return err
	})
	if err := g.Wait(); err != nil {
		return types.Profile{}, err
	}
	profile.IsFollowing = &following
	profile.IsFollowedBy = &followedBy
	return profile, nil
}

// GetByID, GetByEmail and RefreshTokenExists are the lookups the authorizer
// runs. Errors from the store are returned as is.
func (s *AccountService) GetByID(ctx context.Context, id string) (types.User, error) {
	return s.stores.Users(s.tx.Conn()).GetByID(ctx, id)
}

func (s *AccountService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.stores.Users(s.tx.Conn()).GetByEmail(ctx, email)
}

func (s *AccountService) RefreshTokenExists(ctx context.Context, token string) (bool, error) {
	return s.stores.RefreshTokens(s.tx.Conn()).Exists(ctx, token)
}

// mintPair signs an access and a refresh token for user and stores the
// refresh token through q.
func (s *AccountService) mintPair(ctx context.Context, q db.DBTX, user types.User, opts ...tokens.SignOption) (types.TokenPair, error) {
	claims := tokens.Claims{UserID: user.ID, Status: user.Status}

	access, err := s.tokens.Issue(tokens.Access, claims)
	if err != nil {
		return types.TokenPair{}, err
	}
	refresh, err := s.tokens.Issue(tokens.Refresh, claims, opts...)
	if err != nil {
		return types.TokenPair{}, err
	}
	if err := s.stores.RefreshTokens(q).Create(ctx, types.RefreshToken{
		UserID:    user.ID,
		Token:     refresh.Token,
		IssuedAt:  refresh.IssuedAt,
		ExpiresAt: refresh.ExpiresAt,
	}); err != nil {
		return types.TokenPair{}, err
	}
	return types.TokenPair{AccessToken: access.Token, RefreshToken: refresh.Token}, nil
}

// notify hands n to the notifier. A failed notification does not fail the
// request; the client can ask for the mail again.
func (s *AccountService) notify(ctx context.Context, n types.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error("publish notification",
			"type", string(n.Type),
			"user_id", n.UserID,
			"error", err,
		)
	}
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.Wrap(apperr.UserNotExisted, err)
	}
	return err
}

func conflictError(err error) error {
	switch store.ConflictConstraint(err) {
	case store.ConstraintUsersEmail:
		return apperr.Wrap(apperr.EmailAlreadyExists, err)
	case store.ConstraintUsersUsername:
		return apperr.Wrap(apperr.UsernameAlreadyExists, err)
	}
	return err
}

var usernameUnsafe = regexp.MustCompile(`[^a-z0-9_]+`)

func localPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

// federatedUsername derives a handle from the email local part plus a random
// suffix, since federated sign-ups never choose one.
func federatedUsername(email string) string {
	base := usernameUnsafe.ReplaceAllString(strings.ToLower(localPart(email)), "")
	if len(base) > 20 {
		base = base[:20]
	}
	if base == "" {
		base = "user"
	}
	return fmt.Sprintf("%s_%s", base, strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
