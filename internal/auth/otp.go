// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FlatAuth Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes = 32              // 32 bytes = 64 hex chars
	ResetTokenTTL   = 5 * time.Minute // reset window
)

// GenerateResetToken creates a secure random one-time token and its hash.
// Returns (plaintext_token, sha256_hash, error). The plaintext token is
// delivered to the user; only the hash is stored and indexed.
func GenerateResetToken() (token, hash string, err error) {
	buf := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}

	token = hex.EncodeToString(buf)
	hash = HashResetToken(token)

	return token, hash, nil
}

// HashResetToken computes the SHA256 hash of a reset token.
func HashResetToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyResetToken checks if the plaintext token matches the stored hash.
// Uses constant-time comparison.
func VerifyResetToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashResetToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}
