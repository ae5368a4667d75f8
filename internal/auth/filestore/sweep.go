// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package filestore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/flatauth/flatauth/internal/auth"
	"github.com/flatauth/flatauth/internal/store"
)

// Sweeper reconciles the secondary indexes and session/OTP records with the
// user records, which are the source of truth. It recovers from the known
// soft-failure cases: index entries lost to retry exhaustion, entries
// pointing at deleted users, and session or OTP state left behind by a
// crash between the two file writes of a transition.
type Sweeper struct {
	users    *UserRepository
	sessions *SessionRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper over the given repositories.
func NewSweeper(users *UserRepository, sessions *SessionRepository, logger *slog.Logger) (*Sweeper, error) {
	if users == nil {
		return nil, oops.Code("SWEEP_INVALID").Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("SWEEP_INVALID").Errorf("sessions repository is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		users:    users,
		sessions: sessions,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Report summarizes one reconciliation pass.
type Report struct {
	UsersScanned    int `json:"users_scanned"`
	EntriesAdded    int `json:"entries_added"`
	EntriesRemoved  int `json:"entries_removed"`
	SessionsRemoved int `json:"sessions_removed"`
	OTPsCleared     int `json:"otps_cleared"`
}

// Run performs a full reconciliation pass.
func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	var report Report

	users, err := s.users.List(ctx)
	if err != nil {
		return report, err
	}
	report.UsersScanned = len(users)

	byID := make(map[string]*auth.User, len(users))
	wantUsernames := make(map[string]string, len(users))
	wantEmails := make(map[string]string)
	wantOTPs := make(map[string]string)

	now := s.now()
	for _, u := range users {
		id := u.ID.String()
		byID[id] = u

		if u.Username != "" {
			wantUsernames[u.Username] = id
		}
		if u.Email != "" {
			wantEmails[u.Email] = id
		}

		// Expired OTP pointers are dead weight; clear them so the token
		// cannot linger in the index either.
		if u.OTPHash != "" && u.OTPExpired(now) {
			u.ClearOTP()
			if err := s.users.Update(ctx, u); err != nil {
				s.logger.Warn("expired OTP cleanup failed",
					"user_id", id,
					"error", err)
			} else {
				report.OTPsCleared++
			}
		}
		if u.OTPHash != "" {
			wantOTPs[u.OTPHash] = id
		}
	}

	added, removed, err := s.reconcileIndex(ctx, s.users.usernames, usernameIndex, wantUsernames)
	if err != nil {
		return report, err
	}
	report.EntriesAdded += added
	report.EntriesRemoved += removed

	added, removed, err = s.reconcileIndex(ctx, s.users.emails, emailIndex, wantEmails)
	if err != nil {
		return report, err
	}
	report.EntriesAdded += added
	report.EntriesRemoved += removed

	added, removed, err = s.reconcileIndex(ctx, s.users.otps, otpIndex, wantOTPs)
	if err != nil {
		return report, err
	}
	report.EntriesAdded += added
	report.EntriesRemoved += removed

	sessionsRemoved, err := s.pruneSessions(ctx, byID, now)
	if err != nil {
		return report, err
	}
	report.SessionsRemoved = sessionsRemoved

	return report, nil
}

// reconcileIndex replaces the index contents with the entries derived from
// the user records and reports the delta.
func (s *Sweeper) reconcileIndex(ctx context.Context, idx *store.Index, name string, want map[string]string) (added, removed int, err error) {
	have, err := idx.Snapshot()
	if err != nil {
		return 0, 0, err
	}

	for key, id := range want {
		if have[key] != id {
			added++
		}
	}
	for key, id := range have {
		if want[key] != id {
			removed++
		}
	}
	if added == 0 && removed == 0 {
		return 0, 0, nil
	}

	if err := s.users.opts.withRetry(ctx, name, func() error {
		return idx.Replace(want)
	}); err != nil {
		return 0, 0, err
	}
	return added, removed, nil
}

// pruneSessions removes session records that no live user points at, plus
// sessions whose recorded expiry has passed.
func (s *Sweeper) pruneSessions(ctx context.Context, byID map[string]*auth.User, now time.Time) (int, error) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, sess := range sessions {
		user, ok := byID[sess.UserID.String()]
		live := ok && user.SessionID == sess.ID && !user.SessionExpired(now)
		if live {
			continue
		}

		if ok && user.SessionID == sess.ID {
			// Expired but still referenced: run the full transition so the
			// user's pointer is cleared alongside the record.
			user.ClearSession()
			if err := s.users.Update(ctx, user); err != nil {
				s.logger.Warn("session pointer cleanup failed",
					"user_id", sess.UserID.String(),
					"error", err)
				continue
			}
		}

		if err := s.sessions.Delete(ctx, sess.ID); err != nil && !errors.Is(err, auth.ErrNotFound) {
			s.logger.Warn("session record cleanup failed",
				"session_id", sess.ID,
				"error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
