// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/taibuivan/schedula/internal/platform/apperr"
)

// # Authentication Constraints

const (
	// FingerprintBytes is the entropy of a generated device fingerprint.
	FingerprintBytes = 32

	// FingerprintLength is the hex-encoded length of a fingerprint.
	FingerprintLength = FingerprintBytes * 2

	// MaxPasswordBytes is bcrypt's input limit; longer input is rejected, not truncated.
	MaxPasswordBytes = 72

	// MaxEmailLength follows the RFC 5321 path limit.
	MaxEmailLength = 254

	// DefaultCleanupInterval is how often the sweeper deletes dead refresh tokens.
	DefaultCleanupInterval = time.Hour
)

// # Error Taxonomy

// Client-facing failures. The messages are part of the API contract: login
// failures must be indistinguishable whether the email exists or not.
var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = apperr.New(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")

	// ErrInvalidToken covers every refresh failure, including a fingerprint mismatch.
	ErrInvalidToken = apperr.New(http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")

	// ErrUserNotFound is returned when a token outlives its user.
	ErrUserNotFound = apperr.NotFound("User")
)

// Store-level sentinels, never shown to clients.
var (
	// ErrRefreshTokenNotFound means no active, unexpired record matches.
	ErrRefreshTokenNotFound = errors.New("auth: refresh token not found")

	// ErrRefreshTokenConsumed means a concurrent rotation already revoked the record.
	ErrRefreshTokenConsumed = errors.New("auth: refresh token already consumed")
)

// RateLimitExceeded is returned before any password work once the window is full.
func RateLimitExceeded(retryAfter time.Duration) *apperr.AppError {
	return apperr.RateLimited("Too many login attempts", retryAfter)
}
