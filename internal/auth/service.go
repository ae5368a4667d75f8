// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/flatauth/flatauth/internal/observability"
)

// Mailer delivers notification mail. Transport is out of scope for this
// module; implementations live with the embedding application.
type Mailer interface {
	Send(recipient, subject, body string) error
}

// dummyPasswordHash is used when a user doesn't exist to prevent timing
// attacks: password verification still runs so response time stays
// consistent. This is NOT a real credential.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Service is the authentication facade: registration, login, account
// mutation, and the password-reset flow, orchestrating the session and
// reset managers over the user repository.
type Service struct {
	users    UserRepository
	sessions *SessionService
	resets   *ResetService
	hasher   PasswordHasher
	mailer   Mailer
	logger   *slog.Logger
}

// NewService creates a Service. The mailer is optional; pass nil when reset
// mail delivery is handled elsewhere.
func NewService(users UserRepository, sessions *SessionService, resets *ResetService, hasher PasswordHasher, mailer Mailer) (*Service, error) {
	return NewServiceWithLogger(users, sessions, resets, hasher, mailer, slog.Default())
}

// NewServiceWithLogger creates a Service with a custom logger.
func NewServiceWithLogger(users UserRepository, sessions *SessionService, resets *ResetService, hasher PasswordHasher, mailer Mailer, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session service is required")
	}
	if resets == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("reset service is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger is required")
	}
	return &Service{
		users:    users,
		sessions: sessions,
		resets:   resets,
		hasher:   hasher,
		mailer:   mailer,
		logger:   logger,
	}, nil
}

// Sessions exposes the session manager for callers that verify or drop
// sessions directly (e.g., cookie middleware).
func (s *Service) Sessions() *SessionService {
	return s.sessions
}

// Register creates a new account. Fails with ErrConflict if the username is
// already taken.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, oops.Code("AUTH_USERNAME_TAKEN").
			With("username", username).
			Wrap(ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "check username").
			Wrap(err)
	}

	user, err := NewUser(username, hash)
	if err != nil {
		return nil, err
	}

	// The repository writes the record first and then publishes the
	// username index entry under bounded retry; registration has succeeded
	// once the record exists even if index publication is delayed until the
	// next reconciliation sweep.
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, oops.Code("AUTH_USERNAME_TAKEN").
				With("username", username).
				Wrap(ErrConflict)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	observability.RecordRegistration()
	return user, nil
}

// Login authenticates a user and issues a session, rotating out any session
// that is already active. Uses constant-time verification to prevent
// timing-based username enumeration.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, lookupErr := s.users.GetByUsername(ctx, username)

	targetHash := dummyPasswordHash
	userExists := false

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by username").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	// Always verify, even against the dummy hash.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil && userExists {
		return "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !userExists || !valid {
		observability.RecordLogin("failure")
		return "", oops.Code("AUTH_INVALID_CREDENTIALS").Errorf("invalid username or password")
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			user.PasswordHash = newHash
			user.UpdatedAt = time.Now()
			if err := s.users.Update(ctx, user); err != nil {
				// Login succeeds regardless; the old hash still works.
				s.logger.Warn("password hash upgrade failed",
					"user_id", user.ID.String(),
					"error", err)
			}
		}
	}

	sessionID, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		observability.RecordLogin("error")
		return "", err
	}

	observability.RecordLogin("success")
	return sessionID, nil
}

// Logout runs the deletion transition on sessionID. Deleting an unknown or
// superseded session is a no-op, not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	_, err := s.sessions.Delete(ctx, sessionID)
	return err
}

// ComparePassword is a read-side credential check with no state mutation,
// used to confirm the current password before accepting a change.
func (s *Service) ComparePassword(ctx context.Context, userID ulid.ULID, password string) (bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, oops.Code("AUTH_USER_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(ErrNotFound)
		}
		return false, oops.Code("AUTH_COMPARE_FAILED").
			With("operation", "get user").
			Wrap(err)
	}
	return s.hasher.Verify(password, user.PasswordHash)
}

// ModifyUsername changes the account's username. Fails with ErrConflict if
// the new username belongs to another user; on failure both users' usernames
// are left unchanged.
func (s *Service) ModifyUsername(ctx context.Context, userID ulid.ULID, username string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}

	if other, err := s.users.GetByUsername(ctx, username); err == nil {
		if other.ID.Compare(userID) == 0 {
			return nil
		}
		return oops.Code("AUTH_USERNAME_TAKEN").
			With("username", username).
			Wrap(ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return oops.Code("AUTH_MODIFY_FAILED").
			With("operation", "check username").
			Wrap(err)
	}

	return s.mutate(ctx, userID, "username", func(u *User) {
		u.Username = username
	})
}

// ModifyPassword replaces the account's password hash. Confirmation of the
// current password is the caller's job via ComparePassword.
func (s *Service) ModifyPassword(ctx context.Context, userID ulid.ULID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	return s.mutate(ctx, userID, "password", func(u *User) {
		u.PasswordHash = hash
	})
}

// ModifyEmail changes the account's email. An empty value clears the field.
// Fails with ErrConflict if the email belongs to another user.
func (s *Service) ModifyEmail(ctx context.Context, userID ulid.ULID, email string) error {
	if email != "" {
		if other, err := s.users.GetByEmail(ctx, email); err == nil {
			if other.ID.Compare(userID) == 0 {
				return nil
			}
			return oops.Code("AUTH_EMAIL_TAKEN").
				With("email", email).
				Wrap(ErrConflict)
		} else if !errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_MODIFY_FAILED").
				With("operation", "check email").
				Wrap(err)
		}
	}

	return s.mutate(ctx, userID, "email", func(u *User) {
		u.Email = email
	})
}

// ModifyDisplayName changes the account's display name. An empty value
// clears the field.
func (s *Service) ModifyDisplayName(ctx context.Context, userID ulid.ULID, displayName string) error {
	return s.mutate(ctx, userID, "display_name", func(u *User) {
		u.DisplayName = displayName
	})
}

// DeleteAccount removes the account: its active session, its record, and its
// index entries.
func (s *Service) DeleteAccount(ctx context.Context, userID ulid.ULID) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_USER_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(ErrNotFound)
		}
		return oops.Code("AUTH_DELETE_FAILED").
			With("operation", "get user").
			Wrap(err)
	}
	if user.Username == "" {
		return oops.Code("AUTH_USER_INVALID").
			With("user_id", userID.String()).
			Errorf("user has no username")
	}

	if user.HasSession() {
		if _, err := s.sessions.Delete(ctx, user.SessionID); err != nil {
			return oops.Code("AUTH_DELETE_FAILED").
				With("operation", "delete session").
				Wrap(err)
		}
	}

	if err := s.users.Delete(ctx, userID); err != nil {
		return oops.Code("AUTH_DELETE_FAILED").
			With("operation", "delete user").
			Wrap(err)
	}

	return nil
}

// RequestReset starts the password-reset flow for the account registered
// under email. When the email is unknown the call still succeeds with an
// empty token, preventing address enumeration. When a mailer is configured
// the token is delivered to the address; delivery failure does not revoke
// the token.
func (s *Service) RequestReset(ctx context.Context, email string) (string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", oops.Code("RESET_REQUEST_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	token, err := s.resets.Issue(ctx, user.ID)
	if err != nil {
		return "", err
	}
	observability.RecordReset("issued")

	if s.mailer != nil {
		body := fmt.Sprintf("A password reset was requested for %s. Your one-time reset code is: %s", user.Username, token)
		if err := s.mailer.Send(email, "Password reset", body); err != nil {
			s.logger.Warn("reset mail delivery failed",
				"user_id", user.ID.String(),
				"error", err)
		}
	}

	return token, nil
}

// ResetPassword consumes a reset token and sets a new password. The active
// session, if any, is invalidated. The token is spent even when expired.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	userID, err := s.resets.Consume(ctx, token)
	if err != nil {
		observability.RecordReset("rejected")
		return err
	}
	observability.RecordReset("consumed")

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get user").
			Wrap(err)
	}

	if user.HasSession() {
		if _, err := s.sessions.Delete(ctx, user.SessionID); err != nil {
			s.logger.Warn("session invalidation failed after password reset",
				"user_id", user.ID.String(),
				"error", err)
		}
		// Delete reloads and saves the user record; re-read before the
		// password write so the cleared session pointer is not undone.
		user, err = s.users.GetByID(ctx, userID)
		if err != nil {
			return oops.Code("RESET_PASSWORD_FAILED").
				With("operation", "reload user").
				Wrap(err)
		}
	}

	user.PasswordHash = hash
	user.UpdatedAt = time.Now()
	if err := s.users.Update(ctx, user); err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "update password").
			Wrap(err)
	}

	return nil
}

// mutate applies fn to the user record and persists it; the repository
// moves any index entries whose keys changed.
func (s *Service) mutate(ctx context.Context, userID ulid.ULID, field string, fn func(*User)) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("AUTH_USER_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(ErrNotFound)
		}
		return oops.Code("AUTH_MODIFY_FAILED").
			With("operation", "get user").
			With("field", field).
			Wrap(err)
	}

	fn(user)
	user.UpdatedAt = time.Now()

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			return oops.Code("AUTH_MODIFY_CONFLICT").
				With("field", field).
				Wrap(ErrConflict)
		}
		return oops.Code("AUTH_MODIFY_FAILED").
			With("operation", "update user").
			With("field", field).
			Wrap(err)
	}

	return nil
}
