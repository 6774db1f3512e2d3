// Package tokens signs and verifies the four JWT kinds issued by the server.
// Each kind has its own HMAC secret and default lifetime, so a token of one
// kind never verifies as another.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/birdnest/apiserver/config"
	"github.com/birdnest/apiserver/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind identifies a token family.
type Kind int

const (
	Access Kind = iota + 1
	Refresh
	VerifyEmail
	ForgotPassword
)

func (k Kind) String() string {
	switch k {
	case Access:
		return "access"
	case Refresh:
		return "refresh"
	case VerifyEmail:
		return "verify_email"
	case ForgotPassword:
		return "forgot_password"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Claims is the payload of every token. Access, refresh and verify-email
// tokens carry UserID and Status; forgot-password tokens carry Email.
type Claims struct {
	UserID    string           `json:"user_id,omitempty"`
	Status    types.UserStatus `json:"status,omitempty"`
	Email     string           `json:"email,omitempty"`
	TokenType string           `json:"token_type"`
	jwt.RegisteredClaims
}

var (
	ErrMalformed        = errors.New("token is malformed")
	ErrExpired          = errors.New("token is expired")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrWrongKind        = errors.New("token is of the wrong kind")
)

// VerifyError is returned by Verify. Reason is one of the Err* sentinels and
// Err is the underlying jwt error, if any.
type VerifyError struct {
	Kind   Kind
	Reason error
	Err    error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verify %s token: %v: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("verify %s token: %v", e.Kind, e.Reason)
}

func (e *VerifyError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

type keySet struct {
	secret []byte
	ttl    time.Duration
}

// Service mints and checks tokens.
type Service struct {
	keys map[Kind]keySet
	now  func() time.Time
}

func New(cfg config.TokenConfig) *Service {
	return &Service{
		keys: map[Kind]keySet{
			Access:         {secret: []byte(cfg.AccessSecret), ttl: cfg.AccessTTL},
			Refresh:        {secret: []byte(cfg.RefreshSecret), ttl: cfg.RefreshTTL},
			VerifyEmail:    {secret: []byte(cfg.VerifyEmailSecret), ttl: cfg.VerifyEmailTTL},
			ForgotPassword: {secret: []byte(cfg.ForgotPasswordSecret), ttl: cfg.ForgotPasswordTTL},
		},
		now: time.Now,
	}
}

// SetClock replaces the time source used for issuing and validating.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type signOptions struct {
	expiresAt time.Time
}

type SignOption func(*signOptions)

// WithExpiresAt overrides the kind's default lifetime with an absolute expiry.
func WithExpiresAt(t time.Time) SignOption {
	return func(o *signOptions) {
		o.expiresAt = t
	}
}

// Issued is a freshly minted token with the times embedded in it.
type Issued struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Sign mints a token of kind. IssuedAt, ExpiresAt, ID and TokenType in claims
// are always set by Sign.
func (s *Service) Sign(kind Kind, claims Claims, opts ...SignOption) (string, error) {
	issued, err := s.Issue(kind, claims, opts...)
	if err != nil {
		return "", err
	}
	return issued.Token, nil
}

// Issue is Sign that also reports the embedded issue and expiry times, at
// the second precision of the token.
func (s *Service) Issue(kind Kind, claims Claims, opts ...SignOption) (Issued, error) {
	keys, ok := s.keys[kind]
	if !ok {
		return Issued{}, fmt.Errorf("sign: unknown token kind %s", kind)
	}
	var o signOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := s.now()
	expiresAt := now.Add(keys.ttl)
	if !o.expiresAt.IsZero() {
		expiresAt = o.expiresAt
	}

	claims.TokenType = kind.String()
	claims.Subject = claims.UserID
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	claims.ID = uuid.NewString()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(keys.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return Issued{
		Token:     signed,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks the signature, expiry and kind of token.
func (s *Service) Verify(kind Kind, token string) (*Claims, error) {
	keys, ok := s.keys[kind]
	if !ok {
		return nil, fmt.Errorf("verify: unknown token kind %s", kind)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return keys.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, &VerifyError{Kind: kind, Reason: reason(err), Err: err}
	}
	if claims.TokenType != kind.String() {
		return nil, &VerifyError{Kind: kind, Reason: ErrWrongKind}
	}
	return claims, nil
}

func reason(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}
