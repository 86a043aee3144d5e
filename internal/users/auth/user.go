// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package auth implements the authentication and session core of Schedula.

It owns login, refresh-token rotation bound to a device fingerprint, logout,
and containment of replayed tokens. Other parts of the application consume it
through [Service] and the access-token verifier.

# Architecture

  - Entities: [User] and [RefreshToken] (this file).
  - Components: [CredentialVerifier], [FingerprintManager], the sliding-window
    limiter and the token issuer, each behind a small interface.
  - Orchestration: [Service] runs the login and refresh flows.
  - Storage: Postgres (primary) and SQLite implementations of the repositories.
  - Transport: [Handler] maps the flows to cookies and JSON.
*/
package auth

import (
	"time"

	"github.com/taibuivan/schedula/internal/platform/sec"
)

// # Domain Entities

// User is an account that can log in. The auth core never deletes users.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         sec.UserRole

	// CustomerID and EmployeeID link the account to its business profile.
	// Empty when the account has none.
	CustomerID string
	EmployeeID string

	// Fingerprint is the device the current session is bound to. Set at login,
	// cleared at logout.
	Fingerprint string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RefreshToken is the persisted record of an issued refresh token.
//
// Only the SHA-256 digest of the signed token is stored.
type RefreshToken struct {
	ID          string
	TokenHash   string
	UserID      string
	Fingerprint string
	ExpiresAt   time.Time
	IsRevoked   bool
	RevokedAt   *time.Time
	CreatedAt   time.Time
}

// IsActive reports whether the token can still be redeemed at now.
func (token *RefreshToken) IsActive(now time.Time) bool {
	return !token.IsRevoked && now.Before(token.ExpiresAt)
}

// # Transport Shapes

// PublicUser is the user shape returned to clients.
type PublicUser struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
	CustomerID string `json:"customerId,omitempty"`
	EmployeeID string `json:"employeeId,omitempty"`
}

// Public strips secrets from the user.
func (user *User) Public() PublicUser {
	return PublicUser{
		ID:         user.ID,
		Email:      user.Email,
		Role:       string(user.Role),
		CustomerID: user.CustomerID,
		EmployeeID: user.EmployeeID,
	}
}

// subject is the identity an access token is minted for.
func (user *User) subject(fingerprint string) sec.AccessSubject {
	return sec.AccessSubject{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		CustomerID:  user.CustomerID,
		EmployeeID:  user.EmployeeID,
		Fingerprint: fingerprint,
	}
}

// # Field Identifiers

// Field names used in validation errors and JSON bodies.
const (
	FieldEmail    = "email"
	FieldPassword = "password"
	FieldUserID   = "userId"
	FieldUser     = "user"
	FieldToken    = "token"
	FieldSuccess  = "success"
	FieldRole     = "role"
)
