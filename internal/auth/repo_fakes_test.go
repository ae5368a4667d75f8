// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package auth

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// memUsers is an in-memory UserRepository for service tests. It mirrors the
// file-backed repository's contract: secondary keys are unique, and lookups
// go through them.
type memUsers struct {
	mu    sync.Mutex
	users map[ulid.ULID]User

	// Optional error overrides per method.
	createErr error
	updateErr error
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[ulid.ULID]User)}
}

func (m *memUsers) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, u := range m.users {
		if u.Username == user.Username {
			return ErrConflict
		}
	}
	m.users[user.ID] = *user
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id ulid.ULID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *memUsers) GetByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if email == "" {
		return nil, ErrNotFound
	}
	for _, u := range m.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) GetIDByOTPHash(_ context.Context, otpHash string) (ulid.ULID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, u := range m.users {
		if u.OTPHash != "" && u.OTPHash == otpHash {
			return id, nil
		}
	}
	return ulid.ULID{}, ErrNotFound
}

func (m *memUsers) Update(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	if _, ok := m.users[user.ID]; !ok {
		return ErrNotFound
	}
	for id, u := range m.users {
		if id == user.ID {
			continue
		}
		if u.Username == user.Username {
			return ErrConflict
		}
		if user.Email != "" && u.Email == user.Email {
			return ErrConflict
		}
	}
	m.users[user.ID] = *user
	return nil
}

func (m *memUsers) Delete(_ context.Context, id ulid.ULID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	return nil
}

var _ UserRepository = (*memUsers)(nil)

// memSessions is an in-memory SessionRepository for service tests.
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: make(map[string]Session)}
}

func (m *memSessions) Create(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

func (m *memSessions) GetByID(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *memSessions) List(_ context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		s := s
		out = append(out, &s)
	}
	return out, nil
}

var _ SessionRepository = (*memSessions)(nil)
