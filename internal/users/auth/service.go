// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/schedula/internal/platform/apperr"
	"github.com/taibuivan/schedula/internal/platform/constants"
	"github.com/taibuivan/schedula/internal/platform/ctxutil"
	"github.com/taibuivan/schedula/internal/platform/metrics"
	"github.com/taibuivan/schedula/internal/platform/ratelimit"
	"github.com/taibuivan/schedula/internal/platform/sec"
	"github.com/taibuivan/schedula/pkg/uuid"
)

// # Contracts & Types

// LoginLimiter gates login attempts per email.
type LoginLimiter interface {
	Allow(ctx context.Context, identity string) (ratelimit.Decision, error)
}

// TokenIssuer mints and verifies the signed tokens.
type TokenIssuer interface {
	IssueAccessToken(subject sec.AccessSubject) (sec.SignedToken, error)
	IssueRefreshToken(userID, fingerprint string) (sec.SignedToken, error)
	VerifyAccessToken(token string) (*sec.AuthClaims, error)
	VerifyRefreshToken(token string) (*sec.RefreshClaims, error)
}

// ServiceDependencies wires a [Service]. Events, Metrics, Logger and Clock
// are optional.
type ServiceDependencies struct {
	Users        UserRepository
	Tokens       RefreshTokenRepository
	Limiter      LoginLimiter
	Credentials  *CredentialVerifier
	Fingerprints *FingerprintManager
	Issuer       TokenIssuer
	Events       EventPublisher
	Metrics      *metrics.AuthMetrics
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Service runs the login, refresh and logout flows.
//
// # Security
//
// Every client-visible failure is one of the sentinels in constants.go. Store
// and signing failures are logged here and surface as a generic 500.
type Service struct {
	users        UserRepository
	tokens       RefreshTokenRepository
	limiter      LoginLimiter
	credentials  *CredentialVerifier
	fingerprints *FingerprintManager
	issuer       TokenIssuer
	events       EventPublisher
	metrics      *metrics.AuthMetrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewService constructs a [Service].
func NewService(deps ServiceDependencies) *Service {
	service := &Service{
		users:        deps.Users,
		tokens:       deps.Tokens,
		limiter:      deps.Limiter,
		credentials:  deps.Credentials,
		fingerprints: deps.Fingerprints,
		issuer:       deps.Issuer,
		events:       deps.Events,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          deps.Clock,
	}
	if service.fingerprints == nil {
		service.fingerprints = NewFingerprintManager()
	}
	if service.logger == nil {
		service.logger = slog.Default()
	}
	if service.now == nil {
		service.now = time.Now
	}
	return service
}

// LoginInput defines credentials for an authentication attempt.
type LoginInput struct {
	Email    string
	Password string

	// Fingerprint is the device fingerprint the client already holds, if any.
	Fingerprint string
}

// RefreshInput carries a refresh token and the caller's fingerprint.
type RefreshInput struct {
	RefreshToken string
	Fingerprint  string
}

// LoginSession is the token bundle returned by Login and Refresh.
type LoginSession struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	Fingerprint           string
	User                  *User
}

// # Authentication Flow

/*
Login checks the rate limit and credentials, then opens a session bound to a
device fingerprint.

Parameters:
  - ctx: context.Context
  - input: LoginInput

Returns:
  - *LoginSession: Tokens, fingerprint and user
  - error: RATE_LIMITED, [ErrInvalidCredentials], or internal failures
*/
func (service *Service) Login(ctx context.Context, input LoginInput) (session *LoginSession, err error) {
	timer := service.metrics.Start(metrics.OpLogin)
	defer func() { timer.Stop(outcomeOf(err)) }()

	logger := ctxutil.GetLogger(ctx, service.logger)

	// The limiter runs before any password work and fails closed.
	decision, err := service.limiter.Allow(ctx, NormalizeEmail(input.Email))
	if err != nil {
		return nil, service.fail(ctx, "login_rate_limiter_failed", fmt.Errorf("auth_service_rate_limit_failed: %w", err))
	}
	if !decision.Allowed {
		logger.WarnContext(ctx, "login_rate_limited", slog.Duration("retry_after", decision.RetryAfter))
		return nil, RateLimitExceeded(decision.RetryAfter)
	}

	user, err := service.credentials.Verify(ctx, input.Email, input.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.InfoContext(ctx, "login_invalid_credentials", slog.Int("remaining", decision.Remaining))
			return nil, err
		}
		return nil, service.fail(ctx, "login_credentials_failed", err)
	}

	fingerprint, err := service.fingerprints.Resolve(input.Fingerprint)
	if err != nil {
		return nil, service.fail(ctx, "login_fingerprint_failed", err)
	}

	session, record, err := service.mint(user, fingerprint)
	if err != nil {
		return nil, service.fail(ctx, "login_issue_failed", err)
	}

	if err := service.tokens.Create(ctx, record); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, service.fail(ctx, "login_persist_failed", fmt.Errorf("auth_service_session_creation_failed: %w", err))
	}

	user.Fingerprint = fingerprint
	logger.InfoContext(ctx, "login_succeeded", slog.String("user_id", user.ID))
	return session, nil
}

/*
Refresh redeems a refresh token once and returns a rotated bundle.

A supplied fingerprint that differs from the token's binding revokes every
session of the owner before failing.

Returns:
  - *LoginSession: Rotated tokens
  - error: [ErrInvalidToken], [ErrUserNotFound], or internal failures
*/
func (service *Service) Refresh(ctx context.Context, input RefreshInput) (session *LoginSession, err error) {
	timer := service.metrics.Start(metrics.OpRefresh)
	defer func() { timer.Stop(outcomeOf(err)) }()

	logger := ctxutil.GetLogger(ctx, service.logger)

	claims, err := service.issuer.VerifyRefreshToken(input.RefreshToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	current, err := service.tokens.FindByTokenHash(ctx, sec.HashToken(input.RefreshToken))
	if err != nil {
		if errors.Is(err, ErrRefreshTokenNotFound) {
			logger.InfoContext(ctx, "refresh_token_not_active", slog.String("user_id", claims.UserID))
			return nil, ErrInvalidToken
		}
		return nil, service.fail(ctx, "refresh_lookup_failed", fmt.Errorf("auth_service_refresh_lookup_failed: %w", err))
	}
	if current.UserID != claims.UserID {
		return nil, ErrInvalidToken
	}

	if input.Fingerprint != "" && !service.fingerprints.Matches(current.Fingerprint, input.Fingerprint) {
		return nil, service.contain(ctx, current.UserID)
	}

	user, err := service.users.FindByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, service.fail(ctx, "refresh_user_lookup_failed", fmt.Errorf("auth_service_refresh_user_failed: %w", err))
	}

	session, next, err := service.mint(user, current.Fingerprint)
	if err != nil {
		return nil, service.fail(ctx, "refresh_issue_failed", err)
	}

	if err := service.tokens.Rotate(ctx, current, next); err != nil {
		if errors.Is(err, ErrRefreshTokenConsumed) {
			logger.InfoContext(ctx, "refresh_token_already_consumed", slog.String("user_id", user.ID))
			return nil, ErrInvalidToken
		}
		return nil, service.fail(ctx, "refresh_rotate_failed", fmt.Errorf("auth_service_refresh_rotate_failed: %w", err))
	}

	logger.InfoContext(ctx, "refresh_succeeded", slog.String("user_id", user.ID))
	return session, nil
}

/*
Logout revokes every refresh token of userID and clears the bound
fingerprint. Calling it again, or for an unknown user, is a no-op.
*/
func (service *Service) Logout(ctx context.Context, userID string) (err error) {
	timer := service.metrics.Start(metrics.OpLogout)
	defer func() { timer.Stop(outcomeOf(err)) }()

	revoked, err := service.tokens.EndSessions(ctx, userID)
	if err != nil {
		return service.fail(ctx, "logout_failed", fmt.Errorf("auth_service_logout_failed: %w", err))
	}

	ctxutil.GetLogger(ctx, service.logger).InfoContext(ctx, "logout_succeeded",
		slog.String("user_id", userID),
		slog.Int64("revoked", revoked),
	)
	return nil
}

/*
RevokeUserSessions is the administrative force logout. It behaves like
[Service.Logout] for userID and publishes a security event naming actorID.

Returns:
  - int64: Number of tokens revoked
  - error: [ErrUserNotFound] for an unknown user, or internal failures
*/
func (service *Service) RevokeUserSessions(ctx context.Context, actorID, userID string) (revoked int64, err error) {
	timer := service.metrics.Start(metrics.OpRevoke)
	defer func() { timer.Stop(outcomeOf(err)) }()

	if _, err := service.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, service.fail(ctx, "revoke_user_lookup_failed", err)
	}

	revoked, err = service.tokens.EndSessions(ctx, userID)
	if err != nil {
		return 0, service.fail(ctx, "revoke_sessions_failed", fmt.Errorf("auth_service_revoke_failed: %w", err))
	}

	ctxutil.GetLogger(ctx, service.logger).WarnContext(ctx, "sessions_revoked_by_admin",
		slog.String("user_id", userID),
		slog.String("actor_id", actorID),
		slog.Int64("revoked", revoked),
	)
	service.publish(ctx, SecurityEvent{
		Type:          EventSessionsRevoked,
		UserID:        userID,
		ActorID:       actorID,
		RevokedTokens: revoked,
		OccurredAt:    service.now().UTC(),
	})
	return revoked, nil
}

/*
ReissueAccessToken mints a fresh access token for an already authenticated
caller. It backs the deprecated bearer refresh endpoint.

Returns:
  - sec.SignedToken: The new access token
  - error: [ErrUserNotFound] when the account is gone, or internal failures
*/
func (service *Service) ReissueAccessToken(ctx context.Context, claims *sec.AuthClaims) (token sec.SignedToken, err error) {
	timer := service.metrics.Start(metrics.OpReissue)
	defer func() { timer.Stop(outcomeOf(err)) }()

	if claims == nil {
		return sec.SignedToken{}, ErrInvalidToken
	}

	user, err := service.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return sec.SignedToken{}, ErrUserNotFound
		}
		return sec.SignedToken{}, service.fail(ctx, "reissue_user_lookup_failed", err)
	}

	token, err = service.issuer.IssueAccessToken(user.subject(claims.Fingerprint))
	if err != nil {
		return sec.SignedToken{}, service.fail(ctx, "reissue_issue_failed", fmt.Errorf("auth_service_reissue_failed: %w", err))
	}
	return token, nil
}

// Authenticate verifies an access token. Any failure is [ErrInvalidToken].
func (service *Service) Authenticate(token string) (*sec.AuthClaims, error) {
	claims, err := service.issuer.VerifyAccessToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyToken lets the service act as the HTTP middleware's verifier.
func (service *Service) VerifyToken(token string) (*sec.AuthClaims, error) {
	return service.Authenticate(token)
}

// # Internals

// mint issues both tokens for user and builds the record to persist.
func (service *Service) mint(user *User, fingerprint string) (*LoginSession, *RefreshToken, error) {
	access, err := service.issuer.IssueAccessToken(user.subject(fingerprint))
	if err != nil {
		return nil, nil, fmt.Errorf("auth_service_access_token_failed: %w", err)
	}

	refresh, err := service.issuer.IssueRefreshToken(user.ID, fingerprint)
	if err != nil {
		return nil, nil, fmt.Errorf("auth_service_refresh_token_failed: %w", err)
	}

	record := &RefreshToken{
		ID:          uuid.New(),
		TokenHash:   sec.HashToken(refresh.Value),
		UserID:      user.ID,
		Fingerprint: fingerprint,
		ExpiresAt:   refresh.ExpiresAt,
		CreatedAt:   service.now().UTC(),
	}

	session := &LoginSession{
		AccessToken:           access.Value,
		AccessTokenExpiresAt:  access.ExpiresAt,
		RefreshToken:          refresh.Value,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
		Fingerprint:           fingerprint,
		User:                  user,
	}
	return session, record, nil
}

// contain revokes every token of userID after a fingerprint mismatch.
func (service *Service) contain(ctx context.Context, userID string) error {
	service.metrics.FingerprintMismatch()

	revoked, err := service.tokens.RevokeAll(ctx, userID)
	if err != nil {
		return service.fail(ctx, "refresh_containment_failed", fmt.Errorf("auth_service_containment_failed: %w", err))
	}

	ctxutil.GetLogger(ctx, service.logger).WarnContext(ctx, "refresh_fingerprint_mismatch",
		slog.String("user_id", userID),
		slog.Int64("revoked", revoked),
	)
	service.publish(ctx, SecurityEvent{
		Type:          EventFingerprintMismatch,
		UserID:        userID,
		RevokedTokens: revoked,
		OccurredAt:    service.now().UTC(),
	})
	return ErrInvalidToken
}

// publish sends event best effort; the request outcome never depends on it.
func (service *Service) publish(ctx context.Context, event SecurityEvent) {
	if service.events == nil {
		return
	}
	if err := service.events.Publish(ctx, constants.SecurityEventQueue, event); err != nil {
		ctxutil.GetLogger(ctx, service.logger).ErrorContext(ctx, "security_event_publish_failed",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
	}
}

// fail logs an internal failure and returns it unchanged.
func (service *Service) fail(ctx context.Context, event string, err error) error {
	ctxutil.GetLogger(ctx, service.logger).ErrorContext(ctx, event, slog.String("error", err.Error()))
	return err
}

// outcomeOf maps an operation result to its metrics label.
func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	appError := apperr.As(err)
	if appError == nil {
		return metrics.OutcomeError
	}
	switch appError.Code {
	case "RATE_LIMITED":
		return metrics.OutcomeRateLimited
	case ErrInvalidCredentials.Code:
		return metrics.OutcomeInvalidCredentials
	case ErrInvalidToken.Code:
		return metrics.OutcomeInvalidToken
	case ErrUserNotFound.Code:
		return metrics.OutcomeUserNotFound
	default:
		return metrics.OutcomeError
	}
}
