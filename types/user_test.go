package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserJSONIsRedacted(t *testing.T) {
	u := User{
		ID:                  "u1",
		Email:               "a@x.com",
		PasswordHash:        "digest",
		VerifyEmailToken:    "tok-verify-123",
		ForgotPasswordToken: "tok-forgot-456",
		Status:              UserStatusUnverified,
	}
	raw, err := json.Marshal(u)
	require.NoError(t, err)

	body := string(raw)
	assert.NotContains(t, body, "digest")
	assert.NotContains(t, body, "tok-verify-123")
	assert.NotContains(t, body, "tok-forgot-456")
	assert.Contains(t, body, `"status":"unverified"`)
}

func TestProfileUpdateApply(t *testing.T) {
	bio := "hello"
	dob := time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)
	u := User{Name: "Ann", Location: "Oslo"}

	ProfileUpdate{Bio: &bio, DateOfBirth: &dob}.Apply(&u)

	assert.Equal(t, "Ann", u.Name)
	assert.Equal(t, "Oslo", u.Location)
	assert.Equal(t, "hello", u.Bio)
	require.NotNil(t, u.DateOfBirth)
	assert.True(t, u.DateOfBirth.Equal(dob))
	assert.False(t, ProfileUpdate{Bio: &bio}.Empty())
	assert.True(t, ProfileUpdate{}.Empty())
}
