// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"time"
)

// # User Data Access

// UserRepository defines the data access contract for user accounts.
type UserRepository interface {

	/*
		FindByID returns the account with the given ID.

		Returns:
		  - *User: Hydrated entity
		  - error: [ErrUserNotFound] or database failures
	*/
	FindByID(ctx context.Context, id string) (*User, error)

	/*
		FindByEmail returns the account with exactly this email.

		Returns:
		  - *User: Hydrated entity
		  - error: [ErrUserNotFound] or database failures
	*/
	FindByEmail(ctx context.Context, email string) (*User, error)

	/*
		Create persists a brand-new user account. Used by provisioning, not by
		the login flows.

		Returns:
		  - error: Conflict on duplicate email, or persistence failures
	*/
	Create(ctx context.Context, user *User) error
}

// # Refresh Token Data Access

// RefreshTokenRepository defines the data access contract for refresh tokens.
//
// Every multi-row mutation runs in one transaction.
type RefreshTokenRepository interface {

	/*
		Create inserts an ACTIVE record and binds the owner's current
		fingerprint to token.Fingerprint, atomically. Records of the same user
		still active for that fingerprint are revoked in the same transaction,
		so one device holds at most one trusted token.
	*/
	Create(ctx context.Context, token *RefreshToken) error

	/*
		FindByTokenHash returns the record only while it is ACTIVE and unexpired.

		Returns:
		  - error: [ErrRefreshTokenNotFound] otherwise
	*/
	FindByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	/*
		Rotate revokes current and inserts next, atomically.

		The revoke is conditional on current still being active, so of several
		concurrent rotations of one token exactly one succeeds; the others get
		[ErrRefreshTokenConsumed] and nothing is written.
	*/
	Rotate(ctx context.Context, current *RefreshToken, next *RefreshToken) error

	/*
		RevokeAll revokes every active token of userID.

		Returns:
		  - int64: Number of tokens revoked
	*/
	RevokeAll(ctx context.Context, userID string) (int64, error)

	/*
		EndSessions revokes every active token of userID and clears the user's
		fingerprint, atomically. Idempotent.
	*/
	EndSessions(ctx context.Context, userID string) (int64, error)

	/*
		DeleteStale physically removes records that are revoked or expired at now.

		Returns:
		  - int64: Number of rows deleted
	*/
	DeleteStale(ctx context.Context, now time.Time) (int64, error)
}
