package apperr

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FillsFromTable(t *testing.T) {
	e := New(UserNotVerified)
	assert.Equal(t, http.StatusForbidden, e.Status)
	assert.Equal(t, "User is not verified", e.Detail)

	e = New(RefreshTokenRequired)
	assert.Equal(t, http.StatusBadRequest, e.Status)
}

func TestWrap_KeepsCause(t *testing.T) {
	cause := errors.New("jwt: expired")
	err := Wrap(InvalidOrExpiredToken, cause)

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, New(InvalidOrExpiredToken))
	assert.False(t, errors.Is(err, New(UserNotExisted)))
	assert.True(t, IsKind(err, InvalidOrExpiredToken))
}

func TestWrite_DomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, nil, New(CannotFollowYourself))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Bad Request", body.Message)
	assert.Equal(t, "Cannot follow yourself", body.Detail)
}

func TestWrite_ValidationErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, nil, Validation(map[string]string{"email": "must be a valid email address"}, nil))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "must be a valid email address", body.Errors["email"])
}

func TestWrite_UnknownErrorIsOpaque(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	rec := httptest.NewRecorder()

	Write(rec, logger, errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, logs.String(), "connection refused")
}
