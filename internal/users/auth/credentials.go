// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/taibuivan/schedula/internal/platform/sec"
)

// CredentialVerifier checks an email and password against the user store.
//
// Unknown email and wrong password fail with the same [ErrInvalidCredentials],
// and both run one bcrypt comparison.
type CredentialVerifier struct {
	users     UserRepository
	cost      int
	dummyHash string

	// compare is the bcrypt comparison. Every Verify call runs it exactly once.
	compare func(password, hash string) bool
}

// NewCredentialVerifier precomputes the dummy hash at the configured cost.
func NewCredentialVerifier(users UserRepository, cost int) (*CredentialVerifier, error) {
	dummy, err := sec.HashPassword("schedula-dummy-password", cost)
	if err != nil {
		return nil, fmt.Errorf("auth_credentials_dummy_hash_failed: %w", err)
	}
	return &CredentialVerifier{
		users:     users,
		cost:      cost,
		dummyHash: dummy,
		compare:   sec.CheckPasswordHash,
	}, nil
}

// NormalizeEmail trims and NFC-normalises an email. Case is preserved; the
// lookup is exact.
func NormalizeEmail(email string) string {
	return norm.NFC.String(strings.TrimSpace(email))
}

/*
Verify returns the user owning email when password matches.

Returns:
  - *User: The authenticated account
  - error: [ErrInvalidCredentials], or a wrapped store failure
*/
func (verifier *CredentialVerifier) Verify(ctx context.Context, email, password string) (*User, error) {
	// Passwords past bcrypt's 72-byte limit are rejected before the lookup,
	// after the same single comparison every other attempt pays.
	if len(password) > MaxPasswordBytes {
		verifier.compare(password, verifier.dummyHash)
		return nil, ErrInvalidCredentials
	}

	user, err := verifier.users.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			verifier.compare(password, verifier.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth_credentials_lookup_failed: %w", err)
	}

	if !verifier.compare(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Hash hashes a new password at the verifier's cost.
func (verifier *CredentialVerifier) Hash(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", fmt.Errorf("auth_credentials_password_too_long: %d bytes", len(password))
	}
	return sec.HashPassword(password, verifier.cost)
}
