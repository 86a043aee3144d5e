// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taibuivan/schedula/internal/platform/ratelimit"
	"github.com/taibuivan/schedula/internal/platform/sec"
	"github.com/taibuivan/schedula/internal/platform/sqlite"
	"github.com/taibuivan/schedula/pkg/uuid"
)

const (
	testEmail    = "test@example.com"
	testPassword = "Test123!@#"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

type recordingPublisher struct {
	mu     sync.Mutex
	queues []string
	events []SecurityEvent
}

func (publisher *recordingPublisher) Publish(_ context.Context, queue string, event any) error {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	publisher.queues = append(publisher.queues, queue)
	publisher.events = append(publisher.events, event.(SecurityEvent))
	return nil
}

func (publisher *recordingPublisher) Events() []SecurityEvent {
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	return append([]SecurityEvent(nil), publisher.events...)
}

type fixture struct {
	db          *sql.DB
	store       *SQLStore
	issuer      *sec.TokenService
	credentials *CredentialVerifier
	events      *recordingPublisher
	service     *Service
	user        *User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "auth.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := NewSQLStore(db)
	require.NoError(t, store.Init(ctx))

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	issuer, err := sec.NewTokenService(testSecret, sec.DefaultIssuer)
	require.NoError(t, err)

	credentials, err := NewCredentialVerifier(store.Users(), bcrypt.MinCost)
	require.NoError(t, err)

	f := &fixture{
		db:          db,
		store:       store,
		issuer:      issuer,
		credentials: credentials,
		events:      &recordingPublisher{},
	}
	f.service = NewService(ServiceDependencies{
		Users:       store.Users(),
		Tokens:      store.RefreshTokens(),
		Limiter:     ratelimit.NewSlidingWindow(client, ratelimit.Options{}),
		Credentials: credentials,
		Issuer:      issuer,
		Events:      f.events,
	})
	f.user = f.createUser(t, testEmail, sec.RoleCustomer)
	return f
}

func (f *fixture) createUser(t *testing.T, email string, role sec.UserRole) *User {
	t.Helper()
	hash, err := f.credentials.Hash(testPassword)
	require.NoError(t, err)

	user := &User{ID: uuid.New(), Email: email, PasswordHash: hash, Role: role}
	require.NoError(t, f.store.Users().Create(context.Background(), user))
	return user
}

func (f *fixture) login(t *testing.T, fingerprint string) *LoginSession {
	t.Helper()
	session, err := f.service.Login(context.Background(), LoginInput{
		Email:       testEmail,
		Password:    testPassword,
		Fingerprint: fingerprint,
	})
	require.NoError(t, err)
	return session
}

func (f *fixture) accessToken(t *testing.T, user *User) string {
	t.Helper()
	token, err := f.issuer.IssueAccessToken(user.subject(""))
	require.NoError(t, err)
	return token.Value
}

func (f *fixture) activeTokens(t *testing.T, userID string) int {
	t.Helper()
	var count int
	err := f.db.QueryRow(
		`SELECT COUNT(*) FROM refreshtoken WHERE userid = ? AND isrevoked = 0 AND expiresat > ?`,
		userID, time.Now().UnixMilli(),
	).Scan(&count)
	require.NoError(t, err)
	return count
}
