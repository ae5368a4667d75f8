// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package filestore

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/flatauth/flatauth/internal/auth"
	"github.com/flatauth/flatauth/internal/store"
)

// UserRepository implements auth.UserRepository over the record store.
// It owns the username, email, and OTP secondary indexes and keeps them
// consistent with the user records it writes.
type UserRepository struct {
	store     *store.Store
	usernames *store.Index
	emails    *store.Index
	otps      *store.Index
	opts      Options
}

// NewUserRepository creates a UserRepository rooted at the store.
func NewUserRepository(s *store.Store, opts Options) *UserRepository {
	return &UserRepository{
		store:     s,
		usernames: store.NewIndex(s, usernameIndex),
		emails:    store.NewIndex(s, emailIndex),
		otps:      store.NewIndex(s, otpIndex),
		opts:      opts,
	}
}

func userPath(id ulid.ULID) string {
	return usersDir + "/" + id.String() + ".json"
}

// Create stores a new user record and then publishes its index entries
// under bounded retry. The record write is the commit point: if index
// publication exhausts its retries the record survives and the sweep
// repairs the index later.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	path := userPath(user.ID)
	h, err := r.store.Open(path, true, user)
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "write user record").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	if err := h.Save(user); err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "save user record").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	err = r.opts.withRetry(ctx, usernameIndex, func() error {
		err := r.usernames.SetIfAbsent(user.Username, user.ID.String())
		if errors.Is(err, store.ErrExists) {
			return oops.Code("USER_USERNAME_TAKEN").
				With("username", user.Username).
				Wrap(auth.ErrConflict)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, auth.ErrConflict) {
			// Another registration claimed the username between the record
			// write and index publication; withdraw our record so both
			// accounts are left unchanged.
			if rmErr := r.store.Remove(path); rmErr != nil && !errors.Is(rmErr, store.ErrNotFound) {
				return oops.Code("USER_CREATE_FAILED").
					With("operation", "withdraw conflicting record").
					With("user_id", user.ID.String()).
					Wrap(rmErr)
			}
			return err
		}
		// Retry budget exhausted: the record is the commit point, so the
		// user exists; the sweep re-derives the missing index entry.
		if errors.Is(err, store.ErrBusy) {
			return nil
		}
		return err
	}

	if user.Email != "" {
		if err := r.setIndexed(ctx, r.emails, emailIndex, user.Email, user.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	var user auth.User
	if err := r.store.Read(userPath(id), &user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, oops.Code("USER_NOT_FOUND").
				With("user_id", id.String()).
				Wrap(auth.ErrNotFound)
		}
		return nil, oops.Code("USER_GET_FAILED").
			With("user_id", id.String()).
			Wrap(err)
	}
	return &user, nil
}

// GetByUsername retrieves a user by username via the username index.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	return r.getByIndex(ctx, r.usernames, "username", username)
}

// GetByEmail retrieves a user by email via the email index.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	if email == "" {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return r.getByIndex(ctx, r.emails, "email", email)
}

// GetIDByOTPHash resolves a reset-token hash to the owning user ID.
func (r *UserRepository) GetIDByOTPHash(ctx context.Context, otpHash string) (ulid.ULID, error) {
	idStr, err := r.otps.Get(otpHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ulid.ULID{}, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
		}
		return ulid.ULID{}, oops.Code("USER_GET_FAILED").
			With("operation", "otp index lookup").
			Wrap(err)
	}
	id, err := ulid.Parse(idStr)
	if err != nil {
		return ulid.ULID{}, oops.Code("USER_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	return id, nil
}

// Update persists the user and moves any index entries whose keys changed:
// old key removed, new key added, then the record saved, in that order.
func (r *UserRepository) Update(ctx context.Context, user *auth.User) error {
	path := userPath(user.ID)

	var stored auth.User
	h, err := r.store.Open(path, false, &stored)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return oops.Code("USER_NOT_FOUND").
				With("user_id", user.ID.String()).
				Wrap(auth.ErrNotFound)
		}
		if errors.Is(err, store.ErrBusy) {
			return oops.Code("USER_BUSY").
				With("user_id", user.ID.String()).
				Wrap(err)
		}
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "open user record").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	if err := r.moveIndexEntries(ctx, &stored, user); err != nil {
		h.Close()
		return err
	}

	if err := h.Save(user); err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "save user record").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// Delete removes the user record and its index entries.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := r.store.Remove(userPath(id)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return oops.Code("USER_NOT_FOUND").
				With("user_id", id.String()).
				Wrap(auth.ErrNotFound)
		}
		return oops.Code("USER_DELETE_FAILED").
			With("user_id", id.String()).
			Wrap(err)
	}

	if err := r.deleteIndexed(ctx, r.usernames, usernameIndex, user.Username); err != nil {
		return err
	}
	if user.Email != "" {
		if err := r.deleteIndexed(ctx, r.emails, emailIndex, user.Email); err != nil {
			return err
		}
	}
	if user.OTPHash != "" {
		if err := r.deleteIndexed(ctx, r.otps, otpIndex, user.OTPHash); err != nil {
			return err
		}
	}
	return nil
}

// List returns all user records, used by the reconciliation sweep.
func (r *UserRepository) List(ctx context.Context) ([]*auth.User, error) {
	paths, err := r.store.List(usersDir)
	if err != nil {
		return nil, oops.Code("USER_LIST_FAILED").Wrap(err)
	}

	users := make([]*auth.User, 0, len(paths))
	for _, p := range paths {
		var user auth.User
		if err := r.store.Read(p, &user); err != nil {
			// Records can vanish between listing and reading.
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, oops.Code("USER_LIST_FAILED").
				With("path", p).
				Wrap(err)
		}
		users = append(users, &user)
	}
	return users, nil
}

func (r *UserRepository) getByIndex(ctx context.Context, idx *store.Index, kind, key string) (*auth.User, error) {
	idStr, err := idx.Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, oops.Code("USER_NOT_FOUND").
				With(kind, key).
				Wrap(auth.ErrNotFound)
		}
		return nil, oops.Code("USER_GET_FAILED").
			With("operation", kind+" index lookup").
			Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("USER_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	return r.GetByID(ctx, id)
}

// moveIndexEntries reconciles the three indexes with key changes between
// the stored and incoming record.
func (r *UserRepository) moveIndexEntries(ctx context.Context, stored, next *auth.User) error {
	id := next.ID

	if stored.Username != next.Username {
		if err := r.claimIndexed(ctx, r.usernames, usernameIndex, next.Username, id); err != nil {
			return err
		}
		if stored.Username != "" {
			if err := r.deleteIndexed(ctx, r.usernames, usernameIndex, stored.Username); err != nil {
				return err
			}
		}
	}

	if stored.Email != next.Email {
		if next.Email != "" {
			if err := r.claimIndexed(ctx, r.emails, emailIndex, next.Email, id); err != nil {
				return err
			}
		}
		if stored.Email != "" {
			if err := r.deleteIndexed(ctx, r.emails, emailIndex, stored.Email); err != nil {
				return err
			}
		}
	}

	if stored.OTPHash != next.OTPHash {
		if next.OTPHash != "" {
			if err := r.setIndexed(ctx, r.otps, otpIndex, next.OTPHash, id); err != nil {
				return err
			}
		}
		if stored.OTPHash != "" {
			if err := r.deleteIndexed(ctx, r.otps, otpIndex, stored.OTPHash); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *UserRepository) setIndexed(ctx context.Context, idx *store.Index, name, key string, id ulid.ULID) error {
	return r.opts.withRetry(ctx, name, func() error {
		return idx.Set(key, id.String())
	})
}

func (r *UserRepository) claimIndexed(ctx context.Context, idx *store.Index, name, key string, id ulid.ULID) error {
	return r.opts.withRetry(ctx, name, func() error {
		err := idx.SetIfAbsent(key, id.String())
		if errors.Is(err, store.ErrExists) {
			return oops.Code("USER_KEY_TAKEN").
				With("index", name).
				With("key", key).
				Wrap(auth.ErrConflict)
		}
		return err
	})
}

func (r *UserRepository) deleteIndexed(ctx context.Context, idx *store.Index, name, key string) error {
	return r.opts.withRetry(ctx, name, func() error {
		return idx.Delete(key)
	})
}

// Compile-time interface check.
var _ auth.UserRepository = (*UserRepository)(nil)
