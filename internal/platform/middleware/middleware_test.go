// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/schedula/internal/platform/constants"
	"github.com/taibuivan/schedula/internal/platform/ctxutil"
	"github.com/taibuivan/schedula/internal/platform/sec"
)

type stubVerifier struct {
	valid map[string]*sec.AuthClaims
}

func (stub stubVerifier) VerifyToken(token string) (*sec.AuthClaims, error) {
	if claims, ok := stub.valid[token]; ok {
		return claims, nil
	}
	return nil, errors.New("bad token")
}

func whoAmI(writer http.ResponseWriter, request *http.Request) {
	_, _ = writer.Write([]byte(ctxutil.GetUserID(request.Context())))
}

func TestAuthenticate(t *testing.T) {
	verifier := stubVerifier{valid: map[string]*sec.AuthClaims{
		"good":   {UserID: "u-1", Role: "CUSTOMER"},
		"cookie": {UserID: "u-2", Role: "ADMIN"},
	}}
	handler := Authenticate(verifier)(http.HandlerFunc(whoAmI))

	tests := []struct {
		name       string
		header     string
		cookie     string
		wantStatus int
		wantBody   string
	}{
		{"anonymous", "", "", http.StatusOK, ""},
		{"valid bearer", "Bearer good", "", http.StatusOK, "u-1"},
		{"bearer wins over cookie", "Bearer good", "cookie", http.StatusOK, "u-1"},
		{"invalid bearer", "Bearer nope", "", http.StatusUnauthorized, ""},
		{"malformed header", "Token good", "", http.StatusUnauthorized, ""},
		{"valid cookie", "", "cookie", http.StatusOK, "u-2"},
		{"invalid cookie is anonymous", "", "expired", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				request.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				request.AddCookie(&http.Cookie{Name: constants.AccessTokenCookieName, Value: tt.cookie})
			}
			recorder := httptest.NewRecorder()

			handler.ServeHTTP(recorder, request)

			assert.Equal(t, tt.wantStatus, recorder.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantBody, recorder.Body.String())
			}
		})
	}
}

func TestIdentifyFromCookie(t *testing.T) {
	verifier := stubVerifier{valid: map[string]*sec.AuthClaims{
		"good":   {UserID: "u-1", Role: "CUSTOMER"},
		"cookie": {UserID: "u-2", Role: "ADMIN"},
	}}
	handler := IdentifyFromCookie(verifier)(http.HandlerFunc(whoAmI))

	tests := []struct {
		name     string
		header   string
		cookie   string
		wantBody string
	}{
		{"anonymous", "", "", ""},
		{"valid cookie", "", "cookie", "u-2"},
		{"invalid cookie", "", "expired", ""},
		{"bearer is ignored", "Bearer good", "", ""},
		{"stale bearer does not block cookie", "Bearer nope", "cookie", "u-2"},
		{"malformed header", "Token good", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				request.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				request.AddCookie(&http.Cookie{Name: constants.AccessTokenCookieName, Value: tt.cookie})
			}
			recorder := httptest.NewRecorder()

			handler.ServeHTTP(recorder, request)

			assert.Equal(t, http.StatusOK, recorder.Code)
			assert.Equal(t, tt.wantBody, recorder.Body.String())
		})
	}
}

func TestAuthenticate_InvalidBearerBody(t *testing.T) {
	handler := Authenticate(stubVerifier{})(http.HandlerFunc(whoAmI))
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set("Authorization", "Bearer nope")
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, request)

	var body map[string]string
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "Invalid or expired token", body["error"])
	assert.Equal(t, "INVALID_TOKEN", body["code"])
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(sec.RoleAdmin)(http.HandlerFunc(whoAmI))

	tests := []struct {
		name   string
		claims *sec.AuthClaims
		want   int
	}{
		{"anonymous", nil, http.StatusUnauthorized},
		{"customer", &sec.AuthClaims{UserID: "c", Role: "CUSTOMER"}, http.StatusForbidden},
		{"unknown role", &sec.AuthClaims{UserID: "x", Role: "ROOT"}, http.StatusForbidden},
		{"admin", &sec.AuthClaims{UserID: "a", Role: "ADMIN"}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.claims != nil {
				request = request.WithContext(ctxutil.WithAuthUser(request.Context(), tt.claims))
			}
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)
			assert.Equal(t, tt.want, recorder.Code)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	handler := RequireAuth(http.HandlerFunc(whoAmI))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}

func TestIPRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := NewIPRateLimiter(ctx, 1, 2)
	handler := limiter.Middleware(http.HandlerFunc(whoAmI))

	statuses := make([]int, 0, 3)
	for range 3 {
		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.RemoteAddr = "203.0.113.7:4242"
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		statuses = append(statuses, recorder.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, statuses)

	// Another IP has its own bucket.
	assert.True(t, limiter.Allow("198.51.100.1"))
	assert.Equal(t, 2, limiter.Len())

	limiter.evictIdle(time.Now().Add(constants.RateLimitClientTTL + time.Second))
	assert.Equal(t, 0, limiter.Len())
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID()(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		seen = ctxutil.GetRequestID(request.Context())
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, recorder.Header().Get(constants.HeaderXRequestID))

	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.Header.Set(constants.HeaderXRequestID, "abc")
	handler.ServeHTTP(httptest.NewRecorder(), request)
	assert.Equal(t, "abc", seen)
}

func TestPanicRecovery(t *testing.T) {
	handler := PanicRecovery(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestRealIP(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", RealIP(request))

	request.Header.Set(constants.HeaderXForwardedFor, "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", RealIP(request))

	request.Header.Set(constants.HeaderXRealIP, "198.51.100.2")
	assert.Equal(t, "198.51.100.2", RealIP(request))
}
