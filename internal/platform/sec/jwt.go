// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package sec provides cryptographic primitives and token management.
//
// # Architecture
//
// This package isolates security-sensitive code (Hashing, JWT Signing) from
// the domain logic. The session orchestrator consumes it through the narrow
// issuer interface declared in the auth package; the HTTP middleware consumes
// it through [middleware.TokenVerifier].
package sec

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

// # Token Lifetimes

const (
	// AccessTokenTTL bounds how long a stolen access token stays useful.
	AccessTokenTTL = 15 * time.Minute

	// RefreshTokenTTL is the lifetime of a refresh token and its cookie.
	RefreshTokenTTL = 7 * 24 * time.Hour

	// MinSecretLength is the minimum accepted HMAC secret size in bytes.
	MinSecretLength = 32

	// DefaultIssuer is used when no issuer is configured.
	DefaultIssuer = "app"

	refreshKeyInfo = "refresh-token"
)

var (
	// ErrSecretTooShort is returned by [NewTokenService] for weak secrets.
	ErrSecretTooShort = errors.New("sec: jwt secret must be at least 32 bytes")

	// ErrInvalidToken is the single verification failure callers see.
	// The wrapped cause says what actually went wrong, for logs only.
	ErrInvalidToken = errors.New("sec: invalid token")
)

// AuthClaims represents the payload embedded inside a JWT Access Token.
//
// # Why custom claims?
//
// By embedding the identity fields directly inside the JWT,
// the [middleware.Authenticate] can reconstruct the active user context
// WITHOUT querying the database on every single API request.
type AuthClaims struct {
	jwt.RegisteredClaims

	// Custom application claims are abbreviated to keep the JWT payload small.
	UserID      string `json:"uid"`
	Email       string `json:"eml"`
	Role        string `json:"rol"`
	CustomerID  string `json:"cid,omitempty"`
	EmployeeID  string `json:"eid,omitempty"`
	Fingerprint string `json:"fpr"`
}

// RefreshClaims is the payload of a refresh token.
//
// The jti makes two tokens minted for the same user within the same second
// distinct, which the unique token-hash column depends on.
type RefreshClaims struct {
	jwt.RegisteredClaims

	UserID      string `json:"uid"`
	Fingerprint string `json:"fpr"`
}

// AccessSubject is the identity an access token is minted for.
type AccessSubject struct {
	UserID      string
	Email       string
	Role        UserRole
	CustomerID  string
	EmployeeID  string
	Fingerprint string
}

// SignedToken is a compact JWT together with its absolute expiry.
type SignedToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenService handles generation and verification of JWT tokens using HS256.
//
// Access and refresh tokens are signed with different keys; the refresh key is
// derived from the configured secret with HKDF so one secret is enough to run
// the service, yet a refresh token can never pass as an access token.
type TokenService struct {
	accessKey  []byte
	refreshKey []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// TokenOption customises a [TokenService].
type TokenOption func(*TokenService)

// WithClock overrides the time source. Tests use it to mint expired tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(service *TokenService) { service.now = now }
}

// WithTTL overrides the default lifetimes.
func WithTTL(access, refresh time.Duration) TokenOption {
	return func(service *TokenService) {
		if access > 0 {
			service.accessTTL = access
		}
		if refresh > 0 {
			service.refreshTTL = refresh
		}
	}
}

// NewTokenService creates a new TokenService.
/*
Parameters:
  - secret: string (HMAC secret, at least [MinSecretLength] bytes)
  - issuer: string (iss claim, empty falls back to [DefaultIssuer])

Returns:
  - *TokenService: Ready to sign and verify
  - error: [ErrSecretTooShort] or key derivation failure
*/
func NewTokenService(secret, issuer string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}

	refreshKey := make([]byte, 32)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(refreshKeyInfo))
	if _, err := io.ReadFull(reader, refreshKey); err != nil {
		return nil, fmt.Errorf("sec: failed to derive refresh key: %w", err)
	}

	service := &TokenService{
		accessKey:  []byte(secret),
		refreshKey: refreshKey,
		issuer:     issuer,
		accessTTL:  AccessTokenTTL,
		refreshTTL: RefreshTokenTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// # Issuance

// IssueAccessToken signs a short-lived access token for subject.
//
// The audience is the lower-cased role, e.g. "customer".
func (service *TokenService) IssueAccessToken(subject AccessSubject) (SignedToken, error) {
	issuedAt := service.now()
	expiresAt := issuedAt.Add(service.accessTTL)

	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.UserID,
			Issuer:    service.issuer,
			Audience:  jwt.ClaimStrings{subject.Role.Audience()},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:      subject.UserID,
		Email:       subject.Email,
		Role:        string(subject.Role),
		CustomerID:  subject.CustomerID,
		EmployeeID:  subject.EmployeeID,
		Fingerprint: subject.Fingerprint,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(service.accessKey)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sec: failed to sign access token: %w", err)
	}
	return SignedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// IssueRefreshToken signs a long-lived refresh token bound to fingerprint.
func (service *TokenService) IssueRefreshToken(userID, fingerprint string) (SignedToken, error) {
	issuedAt := service.now()
	expiresAt := issuedAt.Add(service.refreshTTL)

	tokenID, err := uuid.NewV7()
	if err != nil {
		return SignedToken{}, fmt.Errorf("sec: failed to generate token id: %w", err)
	}

	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Subject:   userID,
			Issuer:    service.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:      userID,
		Fingerprint: fingerprint,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(service.refreshKey)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sec: failed to sign refresh token: %w", err)
	}
	return SignedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// # Verification

// VerifyAccessToken checks signature, algorithm, issuer and expiry.
//
// Any failure is reported as an error wrapping [ErrInvalidToken].
func (service *TokenService) VerifyAccessToken(tokenString string) (*AuthClaims, error) {
	claims := &AuthClaims{}
	if err := service.parse(tokenString, claims, service.accessKey); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyRefreshToken is the refresh-token counterpart of [TokenService.VerifyAccessToken].
func (service *TokenService) VerifyRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := service.parse(tokenString, claims, service.refreshKey); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing uid", ErrInvalidToken)
	}
	return claims, nil
}

// VerifyToken satisfies the HTTP middleware's verifier contract.
func (service *TokenService) VerifyToken(tokenString string) (*AuthClaims, error) {
	return service.VerifyAccessToken(tokenString)
}

func (service *TokenService) parse(tokenString string, claims jwt.Claims, key []byte) error {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(service.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(service.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: not valid", ErrInvalidToken)
	}
	return nil
}
