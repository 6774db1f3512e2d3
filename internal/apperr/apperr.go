// Package apperr defines the error taxonomy returned by the account API and
// renders it at the HTTP boundary.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Kind names a domain failure.
type Kind string

const (
	AccessTokenRequired           Kind = "AccessTokenRequired"
	RefreshTokenRequired          Kind = "RefreshTokenRequired"
	VerifyEmailTokenRequired      Kind = "VerifyEmailTokenRequired"
	ForgotPasswordTokenRequired   Kind = "ForgotPasswordTokenRequired"
	InvalidOrExpiredToken         Kind = "InvalidOrExpiredToken"
	RefreshTokenNotExisted        Kind = "RefreshTokenNotExisted"
	VerifyEmailTokenNotExisted    Kind = "VerifyEmailTokenNotExisted"
	ForgotPasswordTokenNotExisted Kind = "ForgotPasswordTokenNotExisted"
	UserNotExisted                Kind = "UserNotExisted"
	UserNotVerified               Kind = "UserNotVerified"
	PasswordNotMatch              Kind = "PasswordNotMatch"
	CannotFollowYourself          Kind = "CannotFollowYourself"
	ValidationFailed              Kind = "ValidationFailed"
	EmailAlreadyExists            Kind = "EmailAlreadyExists"
	UsernameAlreadyExists         Kind = "UsernameAlreadyExists"
	InvalidOAuthCode              Kind = "InvalidOAuthCode"
	UnsupportedMediaType          Kind = "UnsupportedMediaType"
	MediaNotFound                 Kind = "MediaNotFound"
	Internal                      Kind = "Internal"
)

// Messages that are not errors but are returned to clients.
const (
	MessageLoginFail       = "Email or password is incorrect"
	MessageAlreadyVerified = "Email already verified"
)

type entry struct {
	status int
	detail string
}

var table = map[Kind]entry{
	AccessTokenRequired:           {http.StatusUnauthorized, "Access token is required"},
	RefreshTokenRequired:          {http.StatusBadRequest, "Refresh token is required"},
	VerifyEmailTokenRequired:      {http.StatusBadRequest, "Verify email token is required"},
	ForgotPasswordTokenRequired:   {http.StatusBadRequest, "Forgot password token is required"},
	InvalidOrExpiredToken:         {http.StatusUnauthorized, "Token is invalid or expired"},
	RefreshTokenNotExisted:        {http.StatusNotFound, "Refresh token does not exist"},
	VerifyEmailTokenNotExisted:    {http.StatusNotFound, "Verify email token does not exist"},
	ForgotPasswordTokenNotExisted: {http.StatusNotFound, "Forgot password token does not exist"},
	UserNotExisted:                {http.StatusNotFound, "User does not exist"},
	UserNotVerified:               {http.StatusForbidden, "User is not verified"},
	PasswordNotMatch:              {http.StatusUnauthorized, "Old password does not match"},
	CannotFollowYourself:          {http.StatusBadRequest, "Cannot follow yourself"},
	ValidationFailed:              {http.StatusUnprocessableEntity, "Request validation failed"},
	EmailAlreadyExists:            {http.StatusConflict, "Email already exists"},
	UsernameAlreadyExists:         {http.StatusConflict, "Username already exists"},
	InvalidOAuthCode:              {http.StatusUnauthorized, "OAuth code is invalid"},
	UnsupportedMediaType:          {http.StatusUnsupportedMediaType, "Only jpeg, png, gif and webp images are accepted"},
	MediaNotFound:                 {http.StatusNotFound, "Media does not exist"},
	Internal:                      {http.StatusInternalServerError, ""},
}

// Error is a domain failure with its HTTP rendering.
type Error struct {
	Kind   Kind
	Status int
	Detail string
	// Errors carries per-field validation messages.
	Errors map[string]string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, apperr.New(k))
// works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func New(kind Kind) *Error {
	ent, ok := table[kind]
	if !ok {
		ent = table[Internal]
	}
	return &Error{Kind: kind, Status: ent.status, Detail: ent.detail}
}

// Wrap returns a kind error that keeps err as its cause.
func Wrap(kind Kind, err error) *Error {
	e := New(kind)
	e.Err = err
	return e
}

// Validation returns a ValidationFailed error with per-field messages.
func Validation(fields map[string]string, err error) *Error {
	e := Wrap(ValidationFailed, err)
	e.Errors = fields
	return e
}

// IsKind reports whether err is an *Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Response is the JSON envelope of every API response.
type Response struct {
	Message string            `json:"message"`
	Detail  string            `json:"detail,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
	Data    any               `json:"data,omitempty"`
}

// Write renders err. Anything that is not an *Error becomes a bare 500 and is
// logged; the cause is never sent to the client.
func Write(w http.ResponseWriter, logger *slog.Logger, err error) {
	var e *Error
	if !errors.As(err, &e) || e.Kind == Internal {
		if logger != nil {
			logger.Error("internal error", "error", err)
		}
		WriteJSON(w, http.StatusInternalServerError, Response{
			Message: http.StatusText(http.StatusInternalServerError),
		})
		return
	}
	if e.Err != nil && logger != nil {
		logger.Debug("request failed", "kind", e.Kind, "error", e.Err)
	}
	WriteJSON(w, e.Status, Response{
		Message: http.StatusText(e.Status),
		Detail:  e.Detail,
		Errors:  e.Errors,
	})
}

func WriteJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
