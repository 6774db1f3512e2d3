// Package auth runs the token checks each endpoint requires and stores the
// outcome in the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/birdnest/apiserver/internal/apperr"
	"github.com/birdnest/apiserver/internal/store"
	"github.com/birdnest/apiserver/internal/tokens"
	"github.com/birdnest/apiserver/types"
	"golang.org/x/sync/errgroup"
)

// Mode selects which checks an endpoint runs.
type Mode int

const (
	ModeAccessToken Mode = iota + 1
	ModeRefreshToken
	ModeAccessAndRefreshToken
	ModeVerifyEmailToken
	ModeForgotPasswordToken
	ModeVerifiedUser
	// ModeOptionalAccessToken lets anonymous requests through but still
	// rejects a bad access token when one is sent.
	ModeOptionalAccessToken
)

func (m Mode) String() string {
	switch m {
	case ModeAccessToken:
		return "access_token"
	case ModeRefreshToken:
		return "refresh_token"
	case ModeAccessAndRefreshToken:
		return "access_and_refresh_token"
	case ModeVerifyEmailToken:
		return "verify_email_token"
	case ModeForgotPasswordToken:
		return "forgot_password_token"
	case ModeVerifiedUser:
		return "verified_user"
	case ModeOptionalAccessToken:
		return "optional_access_token"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// readsBody reports whether the mode needs token fields from the body.
func (m Mode) readsBody() bool {
	switch m {
	case ModeRefreshToken, ModeAccessAndRefreshToken, ModeVerifyEmailToken, ModeForgotPasswordToken:
		return true
	}
	return false
}

// Credentials are the raw token inputs of a request.
type Credentials struct {
	// Authorization is the raw header value, "Bearer <token>".
	Authorization       string `json:"-"`
	RefreshToken        string `json:"refresh_token"`
	VerifyEmailToken    string `json:"verify_email_token"`
	ForgotPasswordToken string `json:"forgot_password_token"`
}

// TokenVerifier checks a signed token of a given kind.
type TokenVerifier interface {
	Verify(kind tokens.Kind, token string) (*tokens.Claims, error)
}

// Accounts are the stored-state lookups the checks depend on.
type Accounts interface {
	GetByID(ctx context.Context, id string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	RefreshTokenExists(ctx context.Context, token string) (bool, error)
}

type Authorizer struct {
	tokens   TokenVerifier
	accounts Accounts
	logger   *slog.Logger
}

func NewAuthorizer(verifier TokenVerifier, accounts Accounts, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{tokens: verifier, accounts: accounts, logger: logger}
}

// Authorize runs the checks of mode against creds.
func (z *Authorizer) Authorize(ctx context.Context, mode Mode, creds Credentials) (Authorization, error) {
	var (
		a   Authorization
		err error
	)
	switch mode {
	case ModeAccessToken:
		a, err = z.checkAccess(creds)
	case ModeOptionalAccessToken:
		if strings.TrimSpace(creds.Authorization) == "" {
			return Authorization{}, nil
		}
		a, err = z.checkAccess(creds)
	case ModeRefreshToken:
		a, err = z.checkRefresh(ctx, creds)
	case ModeAccessAndRefreshToken:
		a, err = z.checkAccessAndRefresh(ctx, creds)
	case ModeVerifyEmailToken:
		a, err = z.checkVerifyEmail(ctx, creds)
	case ModeForgotPasswordToken:
		a, err = z.checkForgotPassword(ctx, creds)
	case ModeVerifiedUser:
		a, err = z.checkVerifiedUser(creds)
	default:
		err = fmt.Errorf("unknown authorization mode %s", mode)
	}
	if err != nil {
		return Authorization{}, z.translate(mode, err)
	}
	return a, nil
}

// translate maps token verification failures to InvalidOrExpiredToken and
// lets domain errors through. Anything else stays an internal error.
func (z *Authorizer) translate(mode Mode, err error) error {
	var verr *tokens.VerifyError
	if errors.As(err, &verr) {
		z.logger.Warn("token verification failed",
			"mode", mode.String(),
			"kind", verr.Kind.String(),
			"reason", verr.Reason.Error(),
		)
		return apperr.Wrap(apperr.InvalidOrExpiredToken, err)
	}
	var aerr *apperr.Error
	if errors.As(err, &aerr) {
		return aerr
	}
	return err
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (z *Authorizer) checkAccess(creds Credentials) (Authorization, error) {
	token, ok := bearerToken(creds.Authorization)
	if !ok {
		return Authorization{}, apperr.New(apperr.AccessTokenRequired)
	}
	claims, err := z.tokens.Verify(tokens.Access, token)
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{UserID: claims.UserID, Status: claims.Status}, nil
}

func (z *Authorizer) checkRefresh(ctx context.Context, creds Credentials) (Authorization, error) {
	if creds.RefreshToken == "" {
		return Authorization{}, apperr.New(apperr.RefreshTokenRequired)
	}
	claims, err := z.tokens.Verify(tokens.Refresh, creds.RefreshToken)
	if err != nil {
		return Authorization{}, err
	}
	exists, err := z.accounts.RefreshTokenExists(ctx, creds.RefreshToken)
	if err != nil {
		return Authorization{}, err
	}
	if !exists {
		return Authorization{}, apperr.New(apperr.RefreshTokenNotExisted)
	}
	a := Authorization{
		UserID:       claims.UserID,
		Status:       claims.Status,
		RefreshToken: creds.RefreshToken,
	}
	if claims.ExpiresAt != nil {
		a.RefreshExpiresAt = claims.ExpiresAt.Time
	}
	return a, nil
}

// checkAccessAndRefresh runs both checks concurrently. The account fields
// come from whichever check finishes last; both tokens are scoped to the same
// account.
func (z *Authorizer) checkAccessAndRefresh(ctx context.Context, creds Credentials) (Authorization, error) {
	var access, refresh Authorization
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		access, err = z.checkAccess(creds)
		return err
	})
	g.Go(func() error {
		var err error
		refresh, err = z.checkRefresh(gctx, creds)
		return err
	})
	if err := g.Wait(); err != nil {
		return Authorization{}, err
	}
	return merge(access, refresh), nil
}

func (z *Authorizer) checkVerifyEmail(ctx context.Context, creds Credentials) (Authorization, error) {
	access, err := z.checkAccess(creds)
	if err != nil {
		return Authorization{}, err
	}
	if creds.VerifyEmailToken == "" {
		return Authorization{}, apperr.New(apperr.VerifyEmailTokenRequired)
	}
	claims, err := z.tokens.Verify(tokens.VerifyEmail, creds.VerifyEmailToken)
	if err != nil {
		return Authorization{}, err
	}
	if claims.UserID != access.UserID {
		return Authorization{}, apperr.New(apperr.VerifyEmailTokenNotExisted)
	}
	user, err := z.lookup(z.accounts.GetByID(ctx, claims.UserID))
	if err != nil {
		return Authorization{}, err
	}
	// An empty stored token means the account is already verified.
	if user.VerifyEmailToken == "" || user.VerifyEmailToken != creds.VerifyEmailToken {
		return Authorization{}, apperr.New(apperr.VerifyEmailTokenNotExisted)
	}
	return merge(access, Authorization{UserID: user.ID}), nil
}

func (z *Authorizer) checkForgotPassword(ctx context.Context, creds Credentials) (Authorization, error) {
	if creds.ForgotPasswordToken == "" {
		return Authorization{}, apperr.New(apperr.ForgotPasswordTokenRequired)
	}
	claims, err := z.tokens.Verify(tokens.ForgotPassword, creds.ForgotPasswordToken)
	if err != nil {
		return Authorization{}, err
	}
	user, err := z.lookup(z.accounts.GetByEmail(ctx, claims.Email))
	if err != nil {
		return Authorization{}, err
	}
	if user.ForgotPasswordToken == "" || user.ForgotPasswordToken != creds.ForgotPasswordToken {
		return Authorization{}, apperr.New(apperr.ForgotPasswordTokenNotExisted)
	}
	return Authorization{UserID: user.ID}, nil
}

func (z *Authorizer) checkVerifiedUser(creds Credentials) (Authorization, error) {
	a, err := z.checkAccess(creds)
	if err != nil {
		return Authorization{}, err
	}
	if a.Status != types.UserStatusVerified {
		return Authorization{}, apperr.New(apperr.UserNotVerified)
	}
	return a, nil
}

func (z *Authorizer) lookup(user types.User, err error) (types.User, error) {
	if errors.Is(err, store.ErrNotFound) {
		return types.User{}, apperr.New(apperr.UserNotExisted)
	}
	return user, err
}
