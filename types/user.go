package types

import "time"

// UserStatus is the verification state of an account.
type UserStatus string

const (
	UserStatusUnverified UserStatus = "unverified"
	UserStatusVerified   UserStatus = "verified"
)

// Valid reports whether s is a known status.
func (s UserStatus) Valid() bool {
	return s == UserStatusUnverified || s == UserStatusVerified
}

// User represents an account in the system.
// Its JSON encoding is the redacted view returned to clients: the password
// digest and the pending email/password tokens are never serialized.
type User struct {
	// ID is the unique identifier of the user. It is minted by the
	// application before the record is inserted.
	ID string `json:"id" db:"id"`

	// Email is the user's unique email address.
	Email string `json:"email" db:"email"`

	// Username is the unique handle chosen by the user.
	Username string `json:"username" db:"username"`

	// PasswordHash stores the digest of the user's password.
	PasswordHash string `json:"-" db:"password_hash"`

	// Status is unverified until the email verification token is consumed.
	Status UserStatus `json:"status" db:"status"`

	// VerifyEmailToken is set only while the account is unverified.
	VerifyEmailToken string `json:"-" db:"verify_email_token"`

	// ForgotPasswordToken is set between a forgot-password request and the
	// reset that consumes it.
	ForgotPasswordToken string `json:"-" db:"forgot_password_token"`

	Name        string     `json:"name" db:"name"`
	Bio         string     `json:"bio" db:"bio"`
	Avatar      string     `json:"avatar" db:"avatar"`
	Cover       string     `json:"cover" db:"cover"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty" db:"date_of_birth"`
	Location    string     `json:"location" db:"location"`
	Website     string     `json:"website" db:"website"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsVerified reports whether the account has confirmed its email.
func (u User) IsVerified() bool {
	return u.Status == UserStatusVerified
}

// ProfileUpdate carries a partial profile patch. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name        *string    `json:"name,omitempty"`
	Bio         *string    `json:"bio,omitempty"`
	Avatar      *string    `json:"avatar,omitempty"`
	Cover       *string    `json:"cover,omitempty"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Location    *string    `json:"location,omitempty"`
	Website     *string    `json:"website,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ProfileUpdate) Empty() bool {
	return p.Name == nil && p.Bio == nil && p.Avatar == nil && p.Cover == nil &&
		p.DateOfBirth == nil && p.Location == nil && p.Website == nil
}

// Apply copies the defined fields of p onto u.
func (p ProfileUpdate) Apply(u *User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	if p.Cover != nil {
		u.Cover = *p.Cover
	}
	if p.DateOfBirth != nil {
		dob := *p.DateOfBirth
		u.DateOfBirth = &dob
	}
	if p.Location != nil {
		u.Location = *p.Location
	}
	if p.Website != nil {
		u.Website = *p.Website
	}
}

// Profile is a user as seen by another viewer. The relationship flags are
// only set when an authenticated, different account is viewing.
type Profile struct {
	User
	IsFollowing  *bool `json:"is_following,omitempty"`
	IsFollowedBy *bool `json:"is_followed_by,omitempty"`
}
