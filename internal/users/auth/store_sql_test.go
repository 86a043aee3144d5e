// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/schedula/internal/platform/apperr"
	"github.com/taibuivan/schedula/internal/platform/sec"
	"github.com/taibuivan/schedula/pkg/uuid"
)

func newRecord(userID, fingerprint string, createdAt time.Time, ttl time.Duration) *RefreshToken {
	return &RefreshToken{
		ID:          uuid.New(),
		TokenHash:   sec.HashToken(uuid.New()),
		UserID:      userID,
		Fingerprint: fingerprint,
		ExpiresAt:   createdAt.Add(ttl),
		CreatedAt:   createdAt,
	}
}

func TestSQLUserRepository(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := f.store.Users()

	found, err := users.FindByEmail(ctx, testEmail)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, found.ID)
	assert.Equal(t, sec.RoleCustomer, found.Role)
	assert.Empty(t, found.CustomerID)

	_, err = users.FindByEmail(ctx, "TEST@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = users.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUserNotFound)

	duplicate := &User{ID: uuid.New(), Email: testEmail, PasswordHash: "x", Role: sec.RoleCustomer}
	err = users.Create(ctx, duplicate)
	assert.True(t, apperr.HasCode(err, "CONFLICT"))

	employee := &User{
		ID:           uuid.New(),
		Email:        "staff@example.com",
		PasswordHash: "x",
		Role:         sec.RoleEmployee,
		EmployeeID:   "emp-42",
	}
	require.NoError(t, users.Create(ctx, employee))
	found, err = users.FindByID(ctx, employee.ID)
	require.NoError(t, err)
	assert.Equal(t, "emp-42", found.EmployeeID)
	assert.WithinDuration(t, employee.CreatedAt, found.CreatedAt, time.Millisecond)
}

func TestSQLRefreshTokenRepository_CreateBindsFingerprint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := f.store.RefreshTokens()
	now := time.Now().UTC()

	record := newRecord(f.user.ID, "fp-1", now, time.Hour)
	require.NoError(t, tokens.Create(ctx, record))

	user, err := f.store.Users().FindByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "fp-1", user.Fingerprint)

	found, err := tokens.FindByTokenHash(ctx, record.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, record.ID, found.ID)
	assert.True(t, found.IsActive(now))
	assert.Nil(t, found.RevokedAt)

	orphan := newRecord(uuid.New(), "fp-2", now, time.Hour)
	assert.ErrorIs(t, tokens.Create(ctx, orphan), ErrUserNotFound)
}

func TestSQLRefreshTokenRepository_CreateRevokesSameDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := f.store.RefreshTokens()
	now := time.Now().UTC()

	first := newRecord(f.user.ID, "fp-laptop", now, time.Hour)
	other := newRecord(f.user.ID, "fp-phone", now, time.Hour)
	require.NoError(t, tokens.Create(ctx, first))
	require.NoError(t, tokens.Create(ctx, other))

	again := newRecord(f.user.ID, "fp-laptop", now.Add(time.Second), time.Hour)
	require.NoError(t, tokens.Create(ctx, again))

	_, err := tokens.FindByTokenHash(ctx, first.TokenHash)
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
	_, err = tokens.FindByTokenHash(ctx, again.TokenHash)
	assert.NoError(t, err)
	_, err = tokens.FindByTokenHash(ctx, other.TokenHash)
	assert.NoError(t, err)
	assert.Equal(t, 2, f.activeTokens(t, f.user.ID))
}

func TestSQLRefreshTokenRepository_FindSkipsExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := f.store.RefreshTokens()

	expired := newRecord(f.user.ID, "fp", time.Now().Add(-2*time.Hour), time.Hour)
	require.NoError(t, tokens.Create(ctx, expired))

	_, err := tokens.FindByTokenHash(ctx, expired.TokenHash)
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestSQLRefreshTokenRepository_RotateIsCompareAndSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := f.store.RefreshTokens()
	now := time.Now().UTC()

	current := newRecord(f.user.ID, "fp", now, time.Hour)
	require.NoError(t, tokens.Create(ctx, current))

	next := newRecord(f.user.ID, "fp", now.Add(time.Second), time.Hour)
	require.NoError(t, tokens.Rotate(ctx, current, next))

	_, err := tokens.FindByTokenHash(ctx, current.TokenHash)
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
	_, err = tokens.FindByTokenHash(ctx, next.TokenHash)
	assert.NoError(t, err)

	// A second rotation of the same record writes nothing.
	loser := newRecord(f.user.ID, "fp", now.Add(2*time.Second), time.Hour)
	assert.ErrorIs(t, tokens.Rotate(ctx, current, loser), ErrRefreshTokenConsumed)
	_, err = tokens.FindByTokenHash(ctx, loser.TokenHash)
	assert.ErrorIs(t, err, ErrRefreshTokenNotFound)
}

func TestSQLRefreshTokenRepository_RevokeAndEndSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := f.store.RefreshTokens()
	now := time.Now().UTC()

	for _, device := range []string{"fp-1", "fp-2", "fp"} {
		require.NoError(t, tokens.Create(ctx, newRecord(f.user.ID, device, now, time.Hour)))
	}

	revoked, err := tokens.RevokeAll(ctx, f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, revoked)

	revoked, err = tokens.RevokeAll(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Zero(t, revoked)

	user, err := f.store.Users().FindByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, "fp", user.Fingerprint)

	require.NoError(t, tokens.Create(ctx, newRecord(f.user.ID, "fp", now, time.Hour)))
	revoked, err = tokens.EndSessions(ctx, f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, revoked)

	user, err = f.store.Users().FindByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, user.Fingerprint)
}

func TestSQLRefreshTokenRepository_DeleteStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tokens := f.store.RefreshTokens()
	now := time.Now().UTC()

	active := newRecord(f.user.ID, "fp-1", now, time.Hour)
	expired := newRecord(f.user.ID, "fp-2", now.Add(-2*time.Hour), time.Hour)
	revoked := newRecord(f.user.ID, "fp-3", now, time.Hour)
	for _, record := range []*RefreshToken{active, expired, revoked} {
		require.NoError(t, tokens.Create(ctx, record))
	}
	require.NoError(t, tokens.Rotate(ctx, revoked, newRecord(f.user.ID, "fp-3", now, time.Hour)))

	deleted, err := tokens.DeleteStale(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	_, err = tokens.FindByTokenHash(ctx, active.TokenHash)
	assert.NoError(t, err)
}
