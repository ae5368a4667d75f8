// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ResetService manages one-time password-reset tokens. Tokens are
// single-use: consuming a token always clears it, whether or not it is
// still inside the reset window.
type ResetService struct {
	users  UserRepository
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewResetService creates a ResetService with the default token TTL.
func NewResetService(users UserRepository) (*ResetService, error) {
	return NewResetServiceWithLogger(users, slog.Default())
}

// NewResetServiceWithLogger creates a ResetService with a custom logger.
func NewResetServiceWithLogger(users UserRepository, logger *slog.Logger) (*ResetService, error) {
	if users == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("users repository is required")
	}
	if logger == nil {
		return nil, oops.Code("RESET_SERVICE_INVALID").Errorf("logger is required")
	}
	return &ResetService{
		users:  users,
		ttl:    ResetTokenTTL,
		logger: logger,
		now:    time.Now,
	}, nil
}

// SetTTL overrides the reset window. Intended for configuration wiring.
func (s *ResetService) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// Issue generates a fresh reset token for the user, invalidating any token
// issued earlier. Returns the plaintext token for delivery; only its hash is
// persisted.
func (s *ResetService) Issue(ctx context.Context, userID ulid.ULID) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code("RESET_USER_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(ErrNotFound)
		}
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "get user").
			Wrap(err)
	}

	token, hash, err := GenerateResetToken()
	if err != nil {
		return "", err
	}

	// Overwriting the pointer invalidates the previous token; the
	// repository moves the index entry from the old hash to the new one.
	expiry := s.now().Add(s.ttl)
	user.OTPHash = hash
	user.OTPExpiry = &expiry
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return "", oops.Code("RESET_ISSUE_FAILED").
			With("operation", "update user reset pointer").
			Wrap(err)
	}

	return token, nil
}

// Consume resolves a reset token to its owning user ID. The token is cleared
// unconditionally before the expiry verdict is returned: an expired token is
// spent, not reusable. Returns ErrNotFound for unknown tokens and ErrExpired
// for tokens past the reset window.
func (s *ResetService) Consume(ctx context.Context, token string) (ulid.ULID, error) {
	if token == "" {
		return ulid.ULID{}, oops.Code("RESET_TOKEN_INVALID").
			Errorf("reset token cannot be empty")
	}

	hash := HashResetToken(token)

	userID, err := s.users.GetIDByOTPHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, oops.Code("RESET_TOKEN_INVALID").Wrap(ErrNotFound)
		}
		return ulid.ULID{}, oops.Code("RESET_CONSUME_FAILED").
			With("operation", "resolve token").
			Wrap(err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ulid.ULID{}, oops.Code("RESET_TOKEN_INVALID").Wrap(ErrNotFound)
		}
		return ulid.ULID{}, oops.Code("RESET_CONSUME_FAILED").
			With("operation", "get user").
			Wrap(err)
	}

	expired := user.OTPHash != hash || user.OTPExpired(s.now())

	if user.OTPHash != "" {
		user.ClearOTP()
		if err := s.users.Update(ctx, user); err != nil {
			return ulid.ULID{}, oops.Code("RESET_CONSUME_FAILED").
				With("operation", "clear user reset pointer").
				Wrap(err)
		}
	}

	if expired {
		return ulid.ULID{}, oops.Code("RESET_TOKEN_EXPIRED").
			With("user_id", userID.String()).
			Wrap(ErrExpired)
	}

	return userID, nil
}
