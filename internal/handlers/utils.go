package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/birdnest/apiserver/internal/apperr"
	"github.com/birdnest/apiserver/internal/auth"
	validation "github.com/go-ozzo/ozzo-validation"
)

const maxBodyBytes = 1 << 20

// Response details of successful requests.
const (
	detailUserCreated       = "User created successfully"
	detailLoginSuccess      = "Login successfully"
	detailRefreshSuccess    = "Refresh token successfully"
	detailLogoutSuccess     = "Logout successfully"
	detailEmailVerified     = "Email verified successfully"
	detailVerifyEmailResent = "Verify email resent successfully"
	detailCheckEmailToReset = "Check your email to reset your password"
	detailForgotTokenValid  = "Forgot password token is valid"
	detailPasswordReset     = "Password reset successfully"
	detailPasswordChanged   = "Password changed successfully"
	detailFollowed          = "Followed successfully"
	detailAlreadyFollowed   = "Already followed"
	detailUnfollowed        = "Unfollowed successfully"
	detailImageUploaded     = "Image uploaded successfully"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// respond writes the success envelope.
func respond(w http.ResponseWriter, status int, detail string, data any) {
	apperr.WriteJSON(w, status, apperr.Response{
		Message: http.StatusText(status),
		Detail:  detail,
		Data:    data,
	})
}

// decodeJSON reads a single JSON object from the request body into dst.
// Unknown fields are ignored; the token fields read by the authorization
// middleware share the body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation(map[string]string{"body": "is required"}, err)
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Validation(map[string]string{"body": "is too large"}, err)
		}
		return apperr.Validation(map[string]string{"body": "must be a JSON object"}, err)
	}
	return nil
}

// validationError converts ozzo field errors into a ValidationFailed error.
// Internal rule failures are returned unchanged.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		fields := make(map[string]string, len(fieldErrs))
		for name, fieldErr := range fieldErrs {
			fields[name] = fieldErr.Error()
		}
		return apperr.Validation(fields, err)
	}
	var internal validation.InternalError
	if errors.As(err, &internal) {
		return err
	}
	return apperr.Validation(map[string]string{"body": err.Error()}, err)
}

// authorization returns the result the authorization middleware stored.
func authorization(r *http.Request) auth.Authorization {
	a, _ := auth.FromContext(r.Context())
	return a
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// strongPassword requires a lowercase letter, an uppercase letter, a digit
// and a symbol.
func strongPassword(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	var lower, upper, digit, symbol bool
	for _, c := range s {
		switch {
		case unicode.IsLower(c):
			lower = true
		case unicode.IsUpper(c):
			upper = true
		case unicode.IsDigit(c):
			digit = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c):
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		return errors.New("must contain a lowercase letter, an uppercase letter, a digit and a symbol")
	}
	return nil
}

func equalTo(other, name string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != other {
			return fmt.Errorf("must match %s", name)
		}
		return nil
	}
}

var passwordRules = []validation.Rule{
	validation.Required,
	validation.Length(6, 50),
	validation.By(strongPassword),
}
