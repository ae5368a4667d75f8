// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Username validation constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
)

// usernameRegex matches usernames that:
// - Start with a letter (a-z, A-Z)
// - Contain only letters, numbers, and underscores
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// User represents a user account. Empty string means absent for the
// optional fields. The active session and reset-token pointers live here:
// session and token validity is always re-derived from the user record, not
// from the session or token records themselves.
type User struct {
	ID           ulid.ULID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Email        string    `json:"email,omitempty"`
	DisplayName  string    `json:"display_name,omitempty"`

	SessionID     string     `json:"session_id,omitempty"`
	SessionExpiry *time.Time `json:"session_expiry,omitempty"`

	OTPHash   string     `json:"otp_hash,omitempty"`
	OTPExpiry *time.Time `json:"otp_expiry,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser creates a user with a fresh ID and timestamps.
// The password hash must already be computed.
func NewUser(username, passwordHash string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	now := time.Now()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// HasSession returns true if a session pointer is recorded.
// It says nothing about expiry.
func (u *User) HasSession() bool {
	return u.SessionID != ""
}

// SessionExpired returns true if the recorded session is absent or past
// its expiry at time t.
func (u *User) SessionExpired(t time.Time) bool {
	return u.SessionExpiry == nil || t.After(*u.SessionExpiry)
}

// ClearSession removes the session pointer and expiry.
func (u *User) ClearSession() {
	u.SessionID = ""
	u.SessionExpiry = nil
	u.UpdatedAt = time.Now()
}

// OTPExpired returns true if the recorded reset token is absent or past
// its expiry at time t.
func (u *User) OTPExpired(t time.Time) bool {
	return u.OTPExpiry == nil || t.After(*u.OTPExpiry)
}

// ClearOTP removes the reset-token pointer and expiry.
func (u *User) ClearOTP() {
	u.OTPHash = ""
	u.OTPExpiry = nil
	u.UpdatedAt = time.Now()
}

// ValidateUsername validates a username against rules.
// Username requirements:
// - Length: MinUsernameLength to MaxUsernameLength characters
// - Must start with a letter
// - Can contain only letters (a-z, A-Z), numbers (0-9), and underscores (_)
func ValidateUsername(username string) error {
	if username == "" {
		return oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(username) < MinUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("min", MinUsernameLength).
			Errorf("username must be at least %d characters", MinUsernameLength)
	}
	if len(username) > MaxUsernameLength {
		return oops.Code("AUTH_INVALID_USERNAME").
			With("max", MaxUsernameLength).
			Errorf("username must be at most %d characters", MaxUsernameLength)
	}
	if !usernameRegex.MatchString(username) {
		return oops.Code("AUTH_INVALID_USERNAME").
			Errorf("username must start with a letter and contain only letters, numbers, and underscores")
	}
	return nil
}

// UserRepository manages user persistence. Implementations keep the
// username, email, and reset-token secondary indexes consistent with the
// user records.
type UserRepository interface {
	// Create stores a new user and publishes its index entries.
	// Returns ErrConflict if the username is already claimed.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByUsername retrieves a user by username (case-sensitive).
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByEmail retrieves a user by email (case-sensitive).
	GetByEmail(ctx context.Context, email string) (*User, error)

	// GetIDByOTPHash resolves a reset-token hash to the owning user ID.
	GetIDByOTPHash(ctx context.Context, otpHash string) (ulid.ULID, error)

	// Update persists the user and moves any index entries whose keys
	// changed. Returns ErrConflict if a new username or email is already
	// claimed by another user.
	Update(ctx context.Context, user *User) error

	// Delete removes the user record and its index entries.
	Delete(ctx context.Context, id ulid.ULID) error
}
