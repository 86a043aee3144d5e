// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/schedula/internal/platform/apperr"
	"github.com/taibuivan/schedula/internal/platform/constants"
	"github.com/taibuivan/schedula/internal/platform/metrics"
	"github.com/taibuivan/schedula/internal/platform/ratelimit"
	"github.com/taibuivan/schedula/internal/platform/sec"
	"github.com/taibuivan/schedula/pkg/uuid"
)

func TestLogin_IssuesSession(t *testing.T) {
	f := newFixture(t)

	session := f.login(t, "")

	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.True(t, WellFormedFingerprint(session.Fingerprint))
	assert.Equal(t, sec.RoleCustomer, session.User.Role)
	assert.True(t, session.RefreshTokenExpiresAt.After(session.AccessTokenExpiresAt))

	claims, err := f.service.Authenticate(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, claims.UserID)
	assert.Equal(t, string(sec.RoleCustomer), claims.Role)
	assert.Equal(t, session.Fingerprint, claims.Fingerprint)

	stored, err := f.store.Users().FindByID(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, session.Fingerprint, stored.Fingerprint)
	assert.Equal(t, 1, f.activeTokens(t, f.user.ID))
}

func TestLogin_ReusesWellFormedFingerprint(t *testing.T) {
	f := newFixture(t)
	supplied := strings.Repeat("ab", FingerprintBytes)

	session := f.login(t, supplied)
	assert.Equal(t, supplied, session.Fingerprint)

	session = f.login(t, "not-a-fingerprint")
	assert.NotEqual(t, "not-a-fingerprint", session.Fingerprint)
	assert.True(t, WellFormedFingerprint(session.Fingerprint))
}

func TestLogin_ReloginRevokesPriorTokenForFingerprint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.login(t, "")
	second := f.login(t, first.Fingerprint)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 1, f.activeTokens(t, f.user.ID))

	_, err := f.service.Refresh(ctx, RefreshInput{RefreshToken: first.RefreshToken, Fingerprint: first.Fingerprint})
	assert.Same(t, ErrInvalidToken, err)

	_, err = f.service.Refresh(ctx, RefreshInput{RefreshToken: second.RefreshToken, Fingerprint: second.Fingerprint})
	assert.NoError(t, err)
}

func TestLogin_InvalidCredentialsAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, unknown := f.service.Login(ctx, LoginInput{Email: "nobody@example.com", Password: testPassword})
	_, wrong := f.service.Login(ctx, LoginInput{Email: testEmail, Password: "wrong-password"})

	require.Error(t, unknown)
	require.Error(t, wrong)
	assert.Same(t, ErrInvalidCredentials, unknown)
	assert.Same(t, ErrInvalidCredentials, wrong)
	assert.Equal(t, 0, f.activeTokens(t, f.user.ID))
}

func TestLogin_SixthAttemptIsRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < ratelimit.DefaultLimit; i++ {
		_, err := f.service.Login(ctx, LoginInput{Email: testEmail, Password: testPassword})
		require.NoError(t, err, "attempt %d", i+1)
	}

	_, err := f.service.Login(ctx, LoginInput{Email: testEmail, Password: testPassword})
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, "RATE_LIMITED"))
	assert.Equal(t, "Too many login attempts", err.Error())
	assert.Positive(t, apperr.As(err).RetryAfter)

	// The window is keyed on the normalised email.
	_, err = f.service.Login(ctx, LoginInput{Email: "  TEST@example.com", Password: testPassword})
	assert.True(t, apperr.HasCode(err, "RATE_LIMITED"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func TestLogin_LimiterFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	service := NewService(ServiceDependencies{
		Users:       f.store.Users(),
		Tokens:      f.store.RefreshTokens(),
		Limiter:     failingLimiter{},
		Credentials: f.credentials,
		Issuer:      f.issuer,
	})

	_, err := service.Login(context.Background(), LoginInput{Email: testEmail, Password: testPassword})
	require.Error(t, err)
	assert.False(t, apperr.IsAppError(err))
	assert.Equal(t, 0, f.activeTokens(t, f.user.ID))
}

func TestRefresh_RotatesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.login(t, "")

	second, err := f.service.Refresh(ctx, RefreshInput{RefreshToken: first.RefreshToken, Fingerprint: first.Fingerprint})
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, f.user.ID, second.User.ID)

	_, err = f.service.Refresh(ctx, RefreshInput{RefreshToken: first.RefreshToken, Fingerprint: first.Fingerprint})
	assert.Same(t, ErrInvalidToken, err)

	_, err = f.service.Refresh(ctx, RefreshInput{RefreshToken: second.RefreshToken, Fingerprint: second.Fingerprint})
	assert.NoError(t, err)
	assert.Equal(t, 1, f.activeTokens(t, f.user.ID))
}

func TestRefresh_FingerprintMismatchRevokesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deviceA := f.login(t, strings.Repeat("a", FingerprintLength))
	deviceB := f.login(t, strings.Repeat("b", FingerprintLength))
	require.Equal(t, 2, f.activeTokens(t, f.user.ID))

	_, err := f.service.Refresh(ctx, RefreshInput{RefreshToken: deviceA.RefreshToken, Fingerprint: deviceB.Fingerprint})
	assert.Same(t, ErrInvalidToken, err)
	assert.Equal(t, 0, f.activeTokens(t, f.user.ID))

	// The legitimate holder is locked out as well.
	_, err = f.service.Refresh(ctx, RefreshInput{RefreshToken: deviceA.RefreshToken, Fingerprint: deviceA.Fingerprint})
	assert.Same(t, ErrInvalidToken, err)

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventFingerprintMismatch, events[0].Type)
	assert.Equal(t, f.user.ID, events[0].UserID)
	assert.EqualValues(t, 2, events[0].RevokedTokens)
	assert.Equal(t, []string{constants.SecurityEventQueue}, f.events.queues)
}

func TestRefresh_WithoutFingerprintSkipsBindingCheck(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "")

	rotated, err := f.service.Refresh(context.Background(), RefreshInput{RefreshToken: session.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, session.Fingerprint, rotated.Fingerprint)
	assert.Empty(t, f.events.Events())
}

func TestRefresh_RejectsForeignTokens(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "")

	for name, token := range map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"access token": session.AccessToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.service.Refresh(context.Background(), RefreshInput{RefreshToken: token})
			assert.Same(t, ErrInvalidToken, err)
		})
	}
}

func TestRefresh_ConcurrentRedemptionHasOneWinner(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "")

	const contenders = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		failures []error
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Refresh(context.Background(), RefreshInput{
				RefreshToken: session.RefreshToken,
				Fingerprint:  session.Fingerprint,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	for _, err := range failures {
		assert.Same(t, ErrInvalidToken, err)
	}
	assert.Equal(t, 1, f.activeTokens(t, f.user.ID))
}

func TestLogout_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.login(t, "")

	require.NoError(t, f.service.Logout(ctx, f.user.ID))
	require.NoError(t, f.service.Logout(ctx, f.user.ID))
	require.NoError(t, f.service.Logout(ctx, uuid.New()))

	stored, err := f.store.Users().FindByID(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Fingerprint)

	_, err = f.service.Refresh(ctx, RefreshInput{RefreshToken: session.RefreshToken, Fingerprint: session.Fingerprint})
	assert.Same(t, ErrInvalidToken, err)
}

func TestReissueAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session := f.login(t, "")

	claims, err := f.service.Authenticate(session.AccessToken)
	require.NoError(t, err)

	token, err := f.service.ReissueAccessToken(ctx, claims)
	require.NoError(t, err)
	reissued, err := f.service.Authenticate(token.Value)
	require.NoError(t, err)
	assert.Equal(t, claims.UserID, reissued.UserID)
	assert.Equal(t, claims.Fingerprint, reissued.Fingerprint)

	_, err = f.service.ReissueAccessToken(ctx, &sec.AuthClaims{UserID: uuid.New()})
	assert.Same(t, ErrUserNotFound, err)

	_, err = f.service.ReissueAccessToken(ctx, nil)
	assert.Same(t, ErrInvalidToken, err)
}

func TestRevokeUserSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.createUser(t, "admin@example.com", sec.RoleAdmin)
	f.login(t, "")
	f.login(t, "")

	revoked, err := f.service.RevokeUserSessions(ctx, admin.ID, f.user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, revoked)
	assert.Equal(t, 0, f.activeTokens(t, f.user.ID))

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventSessionsRevoked, events[0].Type)
	assert.Equal(t, admin.ID, events[0].ActorID)

	_, err = f.service.RevokeUserSessions(ctx, admin.ID, uuid.New())
	assert.Same(t, ErrUserNotFound, err)
}

func TestAuthenticate_RejectsRefreshToken(t *testing.T) {
	f := newFixture(t)
	session := f.login(t, "")

	_, err := f.service.Authenticate(session.RefreshToken)
	assert.Same(t, ErrInvalidToken, err)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, metrics.OutcomeSuccess},
		{RateLimitExceeded(0), metrics.OutcomeRateLimited},
		{ErrInvalidCredentials, metrics.OutcomeInvalidCredentials},
		{ErrInvalidToken, metrics.OutcomeInvalidToken},
		{ErrUserNotFound, metrics.OutcomeUserNotFound},
		{fmt.Errorf("wrapped: %w", ErrInvalidToken), metrics.OutcomeInvalidToken},
		{errors.New("boom"), metrics.OutcomeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, outcomeOf(tt.err))
	}
}
