// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package filestore

import (
	"context"
	"errors"

	"github.com/samber/oops"

	"github.com/flatauth/flatauth/internal/auth"
	"github.com/flatauth/flatauth/internal/store"
)

// SessionRepository implements auth.SessionRepository over the record store.
type SessionRepository struct {
	store *store.Store
}

// NewSessionRepository creates a SessionRepository rooted at the store.
func NewSessionRepository(s *store.Store) *SessionRepository {
	return &SessionRepository{store: s}
}

func sessionPath(id string) string {
	return sessionsDir + "/" + id + ".json"
}

// Create stores a new session record.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	h, err := r.store.Open(sessionPath(session.ID), true, session)
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("session_id", session.ID).
			Wrap(err)
	}
	if err := h.Save(session); err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("session_id", session.ID).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*auth.Session, error) {
	var session auth.Session
	if err := r.store.Read(sessionPath(id), &session); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, oops.Code("SESSION_NOT_FOUND").
				With("session_id", id).
				Wrap(auth.ErrNotFound)
		}
		return nil, oops.Code("SESSION_GET_FAILED").
			With("session_id", id).
			Wrap(err)
	}
	return &session, nil
}

// Delete removes a session record. Returns ErrNotFound if absent.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if err := r.store.Remove(sessionPath(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").
				With("session_id", id).
				Wrap(auth.ErrNotFound)
		}
		return oops.Code("SESSION_DELETE_FAILED").
			With("session_id", id).
			Wrap(err)
	}
	return nil
}

// List returns all persisted sessions, used by the reconciliation sweep.
func (r *SessionRepository) List(ctx context.Context) ([]*auth.Session, error) {
	paths, err := r.store.List(sessionsDir)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").Wrap(err)
	}

	sessions := make([]*auth.Session, 0, len(paths))
	for _, p := range paths {
		var session auth.Session
		if err := r.store.Read(p, &session); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, oops.Code("SESSION_LIST_FAILED").
				With("path", p).
				Wrap(err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

// Compile-time interface check.
var _ auth.SessionRepository = (*SessionRepository)(nil)
