package auth

import (
	"context"
	"time"

	"github.com/birdnest/apiserver/types"
)

// Authorization is the per-request result of the checks a Mode ran. Fields a
// check did not populate are left zero.
type Authorization struct {
	UserID           string
	Status           types.UserStatus
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Authenticated reports whether an account id was established.
func (a Authorization) Authenticated() bool {
	return a.UserID != ""
}

// merge overlays the non-zero fields of each part onto the previous ones.
func merge(parts ...Authorization) Authorization {
	var out Authorization
	for _, p := range parts {
		if p.UserID != "" {
			out.UserID = p.UserID
		}
		if p.Status != "" {
			out.Status = p.Status
		}
		if p.RefreshToken != "" {
			out.RefreshToken = p.RefreshToken
		}
		if !p.RefreshExpiresAt.IsZero() {
			out.RefreshExpiresAt = p.RefreshExpiresAt
		}
	}
	return out
}

type ctxKey struct{}

func WithAuthorization(ctx context.Context, a Authorization) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

func FromContext(ctx context.Context) (Authorization, bool) {
	a, ok := ctx.Value(ctxKey{}).(Authorization)
	return a, ok
}
