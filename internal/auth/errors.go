// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique key (username, email) is already
// claimed by another user.
var ErrConflict = errors.New("conflict")

// ErrExpired is returned when a session or reset token is past its expiry.
var ErrExpired = errors.New("expired")
