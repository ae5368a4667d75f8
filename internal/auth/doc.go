// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

// Package auth provides the authentication core: user accounts, sessions,
// and one-time password-reset tokens. Persistence is abstracted behind
// repository interfaces; the file-backed implementation lives in
// internal/auth/filestore.
package auth
