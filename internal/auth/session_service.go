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

// SessionService manages the per-user session lifecycle:
// NoSession -> Active -> (Expired | Rotated | LoggedOut) -> NoSession.
// A user has at most one live session; creating a new one deletes the prior
// session record and overwrites the user's session pointer.
type SessionService struct {
	users    UserRepository
	sessions SessionRepository
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSessionService creates a SessionService with the default TTL.
func NewSessionService(users UserRepository, sessions SessionRepository) (*SessionService, error) {
	return NewSessionServiceWithLogger(users, sessions, slog.Default())
}

// NewSessionServiceWithLogger creates a SessionService with a custom logger.
func NewSessionServiceWithLogger(users UserRepository, sessions SessionRepository, logger *slog.Logger) (*SessionService, error) {
	if users == nil {
		return nil, oops.Code("SESSION_SERVICE_INVALID").Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("SESSION_SERVICE_INVALID").Errorf("sessions repository is required")
	}
	if logger == nil {
		return nil, oops.Code("SESSION_SERVICE_INVALID").Errorf("logger is required")
	}
	return &SessionService{
		users:    users,
		sessions: sessions,
		ttl:      SessionTTL,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// SetTTL overrides the session lifetime. Intended for configuration wiring.
func (s *SessionService) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

// Create issues a new session for the user, rotating out any session that is
// already recorded. The user must exist and have a username set.
func (s *SessionService) Create(ctx context.Context, userID ulid.ULID) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code("SESSION_USER_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(ErrNotFound)
		}
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "get user").
			Wrap(err)
	}
	if user.Username == "" {
		return "", oops.Code("SESSION_USER_INVALID").
			With("user_id", userID.String()).
			Errorf("user has no username")
	}

	// Rotation: the superseded session record is removed before the new
	// pointer is written. Its absence is tolerated (read-time self-healing
	// already treats a dangling pointer as invalid).
	if user.HasSession() {
		if err := s.sessions.Delete(ctx, user.SessionID); err != nil && !errors.Is(err, ErrNotFound) {
			return "", oops.Code("SESSION_CREATE_FAILED").
				With("operation", "delete superseded session").
				With("session_id", user.SessionID).
				Wrap(err)
		}
	}

	id, err := NewSessionID()
	if err != nil {
		return "", err
	}
	session, err := NewSession(id, user.ID)
	if err != nil {
		return "", err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	expiry := s.now().Add(s.ttl)
	user.SessionID = id
	user.SessionExpiry = &expiry
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return "", oops.Code("SESSION_CREATE_FAILED").
			With("operation", "update user session pointer").
			Wrap(err)
	}

	return id, nil
}

// Verify reports whether sessionID identifies a live session. Expiry is
// checked against the owning user record, not the session record; an expired
// session is deleted as a side effect.
func (s *SessionService) Verify(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, oops.Code("SESSION_VERIFY_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, oops.Code("SESSION_VERIFY_FAILED").
			With("operation", "get user").
			Wrap(err)
	}

	// A superseded session record is dead even if its file still exists.
	if user.SessionID != sessionID {
		return false, nil
	}

	if user.SessionExpired(s.now()) {
		if _, err := s.Delete(ctx, sessionID); err != nil {
			s.logger.Warn("expired session cleanup failed",
				"session_id", sessionID,
				"error", err)
		}
		return false, nil
	}

	return true, nil
}

// Fetch returns a verified live session ID for the user, creating one if no
// currently recorded session is valid. Repeated calls inside the expiry
// window return the same ID.
func (s *SessionService) Fetch(ctx context.Context, userID ulid.ULID) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", oops.Code("SESSION_USER_NOT_FOUND").
				With("user_id", userID.String()).
				Wrap(ErrNotFound)
		}
		return "", oops.Code("SESSION_FETCH_FAILED").
			With("operation", "get user").
			Wrap(err)
	}

	if user.HasSession() {
		live, err := s.Verify(ctx, user.SessionID)
		if err != nil {
			return "", err
		}
		if live {
			return user.SessionID, nil
		}
	}

	return s.Create(ctx, userID)
}

// Delete runs the deletion transition for sessionID. Returns false, without
// error, when there is nothing to do: unknown session, missing user, or a
// record that has already been superseded by a newer session.
func (s *SessionService) Delete(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "get session").
			Wrap(err)
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Orphaned session record: the user is gone, so the record
			// carries no authority. Remove it.
			if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
				return false, oops.Code("SESSION_DELETE_FAILED").
					With("operation", "delete orphaned session").
					Wrap(err)
			}
			return false, nil
		}
		return false, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "get user").
			Wrap(err)
	}

	// Guard against deleting a session that has already been superseded:
	// only the currently recorded session may clear the user's pointer.
	if user.SessionID != sessionID {
		return false, nil
	}

	user.ClearSession()
	if err := s.users.Update(ctx, user); err != nil {
		return false, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "clear user session pointer").
			Wrap(err)
	}

	if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, ErrNotFound) {
		return false, oops.Code("SESSION_DELETE_FAILED").
			With("operation", "delete session record").
			Wrap(err)
	}

	return true, nil
}
