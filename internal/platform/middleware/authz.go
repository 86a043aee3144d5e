// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware

import (
	"net/http"

	"github.com/taibuivan/schedula/internal/platform/apperr"
	"github.com/taibuivan/schedula/internal/platform/constants"
	"github.com/taibuivan/schedula/internal/platform/ctxutil"
	requestutil "github.com/taibuivan/schedula/internal/platform/request"
	"github.com/taibuivan/schedula/internal/platform/respond"
	"github.com/taibuivan/schedula/internal/platform/sec"
)

// errInvalidToken matches the body the auth handlers return for a bad token.
var errInvalidToken = apperr.New(http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")

// TokenVerifier defines the interface needed to verify tokens in middleware.
//
// # Why an interface?
//
// Defining TokenVerifier here decouples the middleware from [sec.TokenService],
// allowing tests to inject stubs.
type TokenVerifier interface {
	VerifyToken(tokenStr string) (*sec.AuthClaims, error)
}

// Authenticate resolves the caller's identity from an access token.
//
// # Flow
//  1. An 'Authorization: Bearer <token>' header wins. A malformed or invalid
//     bearer credential is rejected with 401: the client explicitly asked to be
//     treated as someone.
//  2. Otherwise the accessToken cookie is tried. An invalid or expired cookie
//     is ignored and the request proceeds as anonymous.
//  3. Verified [*sec.AuthClaims] are injected into the request context.
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			// ── 1. Bearer header ──────────────────────────────────────────────
			if request.Header.Get("Authorization") != "" {
				token, ok := requestutil.BearerToken(request)
				if !ok {
					respond.Error(writer, request, apperr.Unauthorized("Invalid authorization format"))
					return
				}
				claims, err := verifier.VerifyToken(token)
				if err != nil {
					respond.Error(writer, request, errInvalidToken)
					return
				}
				next.ServeHTTP(writer, request.WithContext(ctxutil.WithAuthUser(request.Context(), claims)))
				return
			}

			// ── 2. Cookie fallback, else anonymous ────────────────────────────
			next.ServeHTTP(writer, withCookieIdentity(request, verifier))
		})
	}
}

// IdentifyFromCookie resolves the caller from the accessToken cookie only.
//
// The Authorization header is ignored and a missing, invalid or expired cookie
// leaves the request anonymous, so routes behind it never answer 401. Logout
// uses it.
func IdentifyFromCookie(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			next.ServeHTTP(writer, withCookieIdentity(request, verifier))
		})
	}
}

// withCookieIdentity attaches the cookie's claims when the cookie verifies.
func withCookieIdentity(request *http.Request, verifier TokenVerifier) *http.Request {
	token := requestutil.Cookie(request, constants.AccessTokenCookieName)
	if token == "" {
		return request
	}
	claims, err := verifier.VerifyToken(token)
	if err != nil {
		return request
	}
	return request.WithContext(ctxutil.WithAuthUser(request.Context(), claims))
}

// RequireAuth blocks requests that are not authenticated.
//
// Must be registered in the router AFTER [Authenticate].
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if ctxutil.GetAuthUser(request.Context()) == nil {
			respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// RequireRole blocks requests if the authenticated user doesn't have the required role.
//
// # Usage
//
// Must be registered in the router AFTER [Authenticate]. It implies
// [RequireAuth] so you don't need to mount both.
func RequireRole(role sec.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			claims := ctxutil.GetAuthUser(request.Context())
			if claims == nil {
				respond.Error(writer, request, apperr.Unauthorized("Authentication required"))
				return
			}

			userRole, known := sec.ParseRole(claims.Role)
			if !known || !userRole.AtLeast(role) {
				respond.Error(writer, request, apperr.Forbidden("Insufficient permissions"))
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}
