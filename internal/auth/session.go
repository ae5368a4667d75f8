// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Session configuration.
const (
	SessionIDBytes = 32        // 32 bytes = 64 hex chars
	SessionTTL     = time.Hour // default session lifetime
)

// Session is the persisted session-to-user back-reference. Expiry is
// deliberately not stored here: validity is derived from the owning user
// record, which tolerates drift between the two files.
type Session struct {
	ID        string    `json:"id"`
	UserID    ulid.ULID `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSession creates a validated Session for the given user.
func NewSession(id string, userID ulid.ULID) (*Session, error) {
	if id == "" {
		return nil, oops.Code("SESSION_INVALID_ID").Errorf("session ID cannot be empty")
	}
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	return &Session{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now(),
	}, nil
}

// NewSessionID generates a secure random session identifier.
func NewSessionID() (string, error) {
	buf := make([]byte, SessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("SESSION_ID_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			Wrap(err)
	}
	return hex.EncodeToString(buf), nil
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByID retrieves a session by its ID.
	GetByID(ctx context.Context, id string) (*Session, error)

	// Delete removes a session by ID. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// List returns all persisted sessions, used by the reconciliation
	// sweep.
	List(ctx context.Context) ([]*Session, error)
}
