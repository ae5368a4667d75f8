// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

// Package filestore implements the auth repositories over the flat-file
// JSON record store. Layout under the store root:
//
//	users/<ulid>.json     one record per user
//	sessions/<id>.json    one record per session
//	usernames.json        username  -> user ID
//	emails.json           email     -> user ID
//	otps.json             otp hash  -> user ID
//
// Record writes happen before index writes on create, and after them on
// key changes, matching how readers self-heal: user records are the source
// of truth, index entries are derived.
package filestore

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/flatauth/flatauth/internal/observability"
	"github.com/flatauth/flatauth/internal/store"
)

// Record layout within the store root.
const (
	usersDir      = "users"
	sessionsDir   = "sessions"
	usernameIndex = "usernames.json"
	emailIndex    = "emails.json"
	otpIndex      = "otps.json"
)

// Default bounded-retry policy for contended index writes.
const (
	DefaultRetryAttempts = 10
	DefaultRetryDelay    = 200 * time.Millisecond
)

// Options tune the bounded retry used for index publication.
type Options struct {
	// RetryAttempts is the number of retries after the initial attempt.
	RetryAttempts uint64

	// RetryDelay is the fixed delay between attempts (linear, no jitter).
	RetryDelay time.Duration
}

// DefaultOptions returns the default retry policy (10 x 200ms).
func DefaultOptions() Options {
	return Options{
		RetryAttempts: DefaultRetryAttempts,
		RetryDelay:    DefaultRetryDelay,
	}
}

// withRetry runs fn under the bounded-retry policy, retrying only on
// store.ErrBusy. This is the single place that interprets the retryable
// signal; exhaustion surfaces as INDEX_CONTENTION.
func (o Options) withRetry(ctx context.Context, index string, fn func() error) error {
	delay := o.RetryDelay
	if delay <= 0 {
		// retry.NewConstant rejects non-positive intervals.
		delay = time.Millisecond
	}
	backoff := retry.WithMaxRetries(o.RetryAttempts, retry.NewConstant(delay))

	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		if err := fn(); err != nil {
			if errors.Is(err, store.ErrBusy) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil && errors.Is(err, store.ErrBusy) {
		observability.RecordIndexContention(index)
		return oops.Code("INDEX_CONTENTION").
			With("index", index).
			With("attempts", o.RetryAttempts+1).
			Wrap(err)
	}
	return err
}
