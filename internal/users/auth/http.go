// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/schedula/internal/platform/constants"
	"github.com/taibuivan/schedula/internal/platform/ctxutil"
	"github.com/taibuivan/schedula/internal/platform/middleware"
	requestutil "github.com/taibuivan/schedula/internal/platform/request"
	"github.com/taibuivan/schedula/internal/platform/respond"
	"github.com/taibuivan/schedula/internal/platform/sec"
	"github.com/taibuivan/schedula/internal/platform/validate"
)

// # Definitions & Constructors

// HandlerOptions tunes the transport.
type HandlerOptions struct {
	// SecureCookies sets the Secure attribute. Enabled in production.
	SecureCookies bool
}

// Handler maps the session flows to cookies and JSON.
//
// Token transport lives only here; [Service] never sees a cookie.
type Handler struct {
	authService *Service
	options     HandlerOptions
	now         func() time.Time
}

// NewHandler constructs a new [Handler].
func NewHandler(service *Service, options HandlerOptions) *Handler {
	return &Handler{authService: service, options: options, now: time.Now}
}

// Routes returns a [chi.Router] with the authentication endpoints.
//
// # Endpoints
//   - POST /login                  : Credentials in, three cookies out.
//   - POST /refresh-token          : Cookie rotation.
//   - POST /logout                 : Ends every session of the caller.
//   - POST /refresh                : Deprecated bearer re-issue.
//   - GET  /me                     : Echoes the caller's claims.
//   - POST /sessions/{userID}/revoke : ADMIN force logout.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.Post("/login", handler.login)
	router.Post("/refresh-token", handler.refreshToken)

	// Logout is cookie-driven and never fails on a stale credential.
	router.With(middleware.IdentifyFromCookie(handler.authService)).Post("/logout", handler.logout)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(handler.authService))

		r.Post("/refresh", handler.reissue)

		r.With(middleware.RequireAuth).Get("/me", handler.me)
		r.With(middleware.RequireRole(sec.RoleAdmin)).Post("/sessions/{userID}/revoke", handler.revokeSessions)
	})

	return router
}

// # Request Payloads

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

/*
Login authenticates a user and establishes a session.

POST /api/v1/auth/login

Request:
  - Body: loginRequest (Email, Password)
  - Cookie: fingerprint (optional, reused when well formed)

Response:
  - 200: {user}: plus accessToken, refreshToken and fingerprint cookies
  - 400: VALIDATION_ERROR
  - 401: INVALID_CREDENTIALS
  - 429: RATE_LIMITED with Retry-After
*/
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest

	if err := requestutil.DecodeJSON(writer, request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).
		MaxLen(FieldEmail, input.Email, MaxEmailLength).
		Required(FieldPassword, input.Password)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	session, err := handler.authService.Login(request.Context(), LoginInput{
		Email:       input.Email,
		Password:    input.Password,
		Fingerprint: requestutil.Cookie(request, constants.FingerprintCookieName),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.setSessionCookies(writer, session)
	respond.JSON(writer, http.StatusOK, map[string]any{FieldUser: session.User.Public()})
}

/*
RefreshToken rotates the refresh token held in cookies.

POST /api/v1/auth/refresh-token

Response:
  - 200: {user}: plus re-issued cookies
  - 401: INVALID_TOKEN (missing, expired, revoked, reused or foreign fingerprint)
  - 404: NOT_FOUND when the account no longer exists
*/
func (handler *Handler) refreshToken(writer http.ResponseWriter, request *http.Request) {
	token := requestutil.Cookie(request, constants.RefreshTokenCookieName)
	if token == "" {
		respond.Error(writer, request, ErrInvalidToken)
		return
	}

	session, err := handler.authService.Refresh(request.Context(), RefreshInput{
		RefreshToken: token,
		Fingerprint:  requestutil.Cookie(request, constants.FingerprintCookieName),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.setSessionCookies(writer, session)
	respond.JSON(writer, http.StatusOK, map[string]any{FieldUser: session.User.Public()})
}

/*
Logout ends the caller's sessions when the access token identifies one, and
always clears the cookies.

POST /api/v1/auth/logout

Response:
  - 200: {success: true}
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	if userID := ctxutil.GetUserID(request.Context()); userID != "" {
		if err := handler.authService.Logout(request.Context(), userID); err != nil {
			respond.Error(writer, request, err)
			return
		}
	}

	handler.clearSessionCookies(writer)
	respond.JSON(writer, http.StatusOK, map[string]any{FieldSuccess: true})
}

/*
Reissue returns a new access token for a bearer caller.

POST /api/v1/auth/refresh

Deprecated: clients should use /refresh-token.

Response:
  - 200: {token}: plus a token cookie and "Deprecation: true"
  - 401: INVALID_TOKEN
  - 404: NOT_FOUND
*/
func (handler *Handler) reissue(writer http.ResponseWriter, request *http.Request) {
	writer.Header().Set(constants.HeaderDeprecation, "true")

	claims := requestutil.Claims(request)
	if claims == nil {
		respond.Error(writer, request, ErrInvalidToken)
		return
	}

	token, err := handler.authService.ReissueAccessToken(request.Context(), claims)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	http.SetCookie(writer, handler.cookie(constants.LegacyTokenCookieName, token.Value, token.ExpiresAt))
	respond.JSON(writer, http.StatusOK, map[string]any{FieldToken: token.Value})
}

/*
Me echoes the identity carried by the access token.

GET /api/v1/auth/me
*/
func (handler *Handler) me(writer http.ResponseWriter, request *http.Request) {
	claims, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}
	respond.OK(writer, PublicUser{
		ID:         claims.UserID,
		Email:      claims.Email,
		Role:       claims.Role,
		CustomerID: claims.CustomerID,
		EmployeeID: claims.EmployeeID,
	})
}

/*
RevokeSessions force-logs-out a user.

POST /api/v1/auth/sessions/{userID}/revoke

Response:
  - 200: {success: true, revoked}
  - 400: VALIDATION_ERROR for a malformed id
  - 404: NOT_FOUND
*/
func (handler *Handler) revokeSessions(writer http.ResponseWriter, request *http.Request) {
	userID := requestutil.Param(request, "userID")

	validator := &validate.Validator{}
	if err := validator.UUID(FieldUserID, userID).Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	actor, err := requestutil.RequiredClaims(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	revoked, err := handler.authService.RevokeUserSessions(request.Context(), actor.UserID, userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.JSON(writer, http.StatusOK, map[string]any{FieldSuccess: true, "revoked": revoked})
}

// # Cookies

func (handler *Handler) setSessionCookies(writer http.ResponseWriter, session *LoginSession) {
	http.SetCookie(writer, handler.cookie(constants.AccessTokenCookieName, session.AccessToken, session.AccessTokenExpiresAt))
	http.SetCookie(writer, handler.cookie(constants.RefreshTokenCookieName, session.RefreshToken, session.RefreshTokenExpiresAt))
	http.SetCookie(writer, handler.cookie(constants.FingerprintCookieName, session.Fingerprint, session.RefreshTokenExpiresAt))
}

func (handler *Handler) clearSessionCookies(writer http.ResponseWriter) {
	for _, name := range []string{
		constants.AccessTokenCookieName,
		constants.RefreshTokenCookieName,
		constants.FingerprintCookieName,
	} {
		cookie := handler.cookie(name, "", time.Unix(0, 0))
		cookie.MaxAge = -1
		http.SetCookie(writer, cookie)
	}
}

// cookie builds an HttpOnly, SameSite=Strict cookie expiring at expiresAt.
func (handler *Handler) cookie(name, value string, expiresAt time.Time) *http.Cookie {
	maxAge := int(math.Ceil(expiresAt.Sub(handler.now()).Seconds()))
	if maxAge < 0 {
		maxAge = 0
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     constants.AuthCookiePath,
		Expires:  expiresAt,
		MaxAge:   maxAge,
		Secure:   handler.options.SecureCookies,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
