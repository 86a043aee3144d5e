// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/schedula/internal/platform/dberr"
	"github.com/taibuivan/schedula/internal/platform/sec"
	"github.com/taibuivan/schedula/pkg/pointer"
)

// Repositories in this file implement the domain interfaces on a
// [pgxpool.Pool]. Storage errors are mapped to domain sentinels so callers
// never see pgx types.

// # User Repository

// PostgresUserRepository implements [UserRepository] on users.account.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresUserRepository creates a new PostgreSQL implementation of the UserRepository.
func NewPostgresUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

const postgresUserColumns = `id, email, passwordhash, role, customerid, employeeid, fingerprint, createdat, updatedat`

// FindByID retrieves a user by primary key.
func (repository *PostgresUserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	const query = `SELECT ` + postgresUserColumns + ` FROM users.account WHERE id = $1`

	user, err := scanPostgresUser(repository.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_id_failed: %w", err)
	}
	return user, nil
}

/*
FindByEmail retrieves a user record by their unique email address.

The comparison is exact; the caller normalises the input.

Returns:
  - *User: Hydrated account entity
  - error: [ErrUserNotFound] or database errors
*/
func (repository *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	const query = `SELECT ` + postgresUserColumns + ` FROM users.account WHERE email = $1`

	user, err := scanPostgresUser(repository.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_email_failed: %w", err)
	}
	return user, nil
}

// Create persists a new user, initialising timestamps when absent.
func (repository *PostgresUserRepository) Create(ctx context.Context, user *User) error {
	const query = `
		INSERT INTO users.account (
			id, email, passwordhash, role, customerid, employeeid, fingerprint, createdat, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := repository.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		nullable(user.CustomerID),
		nullable(user.EmployeeID),
		nullable(user.Fingerprint),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return dberr.Wrap(err, "User")
		}
		return fmt.Errorf("postgres_user_repo_create_failed: %w", err)
	}
	return nil
}

func scanPostgresUser(row pgx.Row) (*User, error) {
	var (
		user        User
		role        string
		customerID  *string
		employeeID  *string
		fingerprint *string
	)
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&role,
		&customerID,
		&employeeID,
		&fingerprint,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = sec.UserRole(role)
	user.CustomerID = pointer.Val(customerID)
	user.EmployeeID = pointer.Val(employeeID)
	user.Fingerprint = pointer.Val(fingerprint)
	return &user, nil
}

// # Refresh Token Repository

// PostgresRefreshTokenRepository implements [RefreshTokenRepository] on users.refreshtoken.
type PostgresRefreshTokenRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresRefreshTokenRepository creates a new PostgreSQL implementation of the RefreshTokenRepository.
func NewPostgresRefreshTokenRepository(pool *pgxpool.Pool) *PostgresRefreshTokenRepository {
	return &PostgresRefreshTokenRepository{pool: pool, now: time.Now}
}

const postgresInsertToken = `
	INSERT INTO users.refreshtoken (
		id, tokenhash, userid, fingerprint, expiresat, isrevoked, createdat
	) VALUES ($1, $2, $3, $4, $5, FALSE, $6)`

/*
Create persists a login's refresh token and binds the user's fingerprint.
Any token still active for the same fingerprint is revoked in the same
transaction.

Returns:
  - error: [ErrUserNotFound] if the user vanished, or persistence failures
*/
func (repository *PostgresRefreshTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	tx, err := repository.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres_refresh_token_repo_create_failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE users.account SET fingerprint = $2, updatedat = $3 WHERE id = $1`,
		token.UserID, token.Fingerprint, token.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_refresh_token_repo_bind_fingerprint_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	// One trusted token per device: a re-login retires the previous one.
	if _, err := tx.Exec(ctx,
		`UPDATE users.refreshtoken SET isrevoked = TRUE, revokedat = $3
		 WHERE userid = $1 AND fingerprint = $2 AND NOT isrevoked`,
		token.UserID, token.Fingerprint, token.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres_refresh_token_repo_revoke_device_failed: %w", err)
	}

	if _, err := tx.Exec(ctx, postgresInsertToken,
		token.ID, token.TokenHash, token.UserID, token.Fingerprint, token.ExpiresAt, token.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres_refresh_token_repo_create_failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres_refresh_token_repo_create_commit_failed: %w", err)
	}
	return nil
}

// FindByTokenHash returns the ACTIVE, unexpired record for tokenHash.
func (repository *PostgresRefreshTokenRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	const query = `
		SELECT id, tokenhash, userid, fingerprint, expiresat, isrevoked, revokedat, createdat
		FROM users.refreshtoken
		WHERE tokenhash = $1 AND NOT isrevoked AND expiresat > $2`

	var token RefreshToken
	err := repository.pool.QueryRow(ctx, query, tokenHash, repository.now().UTC()).Scan(
		&token.ID,
		&token.TokenHash,
		&token.UserID,
		&token.Fingerprint,
		&token.ExpiresAt,
		&token.IsRevoked,
		&token.RevokedAt,
		&token.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("postgres_refresh_token_repo_find_failed: %w", err)
	}
	return &token, nil
}

/*
Rotate revokes current and inserts next in one transaction.

The UPDATE's WHERE clause is the compare-and-set: under READ COMMITTED a
second rotation blocks on the row lock, re-evaluates the predicate after the
first commits, and affects zero rows.
*/
func (repository *PostgresRefreshTokenRepository) Rotate(ctx context.Context, current *RefreshToken, next *RefreshToken) error {
	tx, err := repository.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres_refresh_token_repo_rotate_failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE users.refreshtoken
		SET isrevoked = TRUE, revokedat = $2
		WHERE id = $1 AND NOT isrevoked AND expiresat > $2`,
		current.ID, next.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres_refresh_token_repo_revoke_failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRefreshTokenConsumed
	}

	if _, err := tx.Exec(ctx, postgresInsertToken,
		next.ID, next.TokenHash, next.UserID, next.Fingerprint, next.ExpiresAt, next.CreatedAt,
	); err != nil {
		return fmt.Errorf("postgres_refresh_token_repo_insert_failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres_refresh_token_repo_rotate_commit_failed: %w", err)
	}
	return nil
}

// RevokeAll revokes every active token of userID.
func (repository *PostgresRefreshTokenRepository) RevokeAll(ctx context.Context, userID string) (int64, error) {
	tag, err := repository.pool.Exec(ctx, postgresRevokeAll, userID, repository.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres_refresh_token_repo_revoke_all_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

const postgresRevokeAll = `
	UPDATE users.refreshtoken
	SET isrevoked = TRUE, revokedat = $2
	WHERE userid = $1 AND NOT isrevoked`

// EndSessions revokes all tokens of userID and clears the fingerprint.
func (repository *PostgresRefreshTokenRepository) EndSessions(ctx context.Context, userID string) (int64, error) {
	now := repository.now().UTC()

	tx, err := repository.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres_refresh_token_repo_end_sessions_failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, postgresRevokeAll, userID, now)
	if err != nil {
		return 0, fmt.Errorf("postgres_refresh_token_repo_end_sessions_revoke_failed: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE users.account SET fingerprint = NULL, updatedat = $2 WHERE id = $1`,
		userID, now,
	); err != nil {
		return 0, fmt.Errorf("postgres_refresh_token_repo_end_sessions_clear_failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres_refresh_token_repo_end_sessions_commit_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteStale removes revoked or expired tokens.
func (repository *PostgresRefreshTokenRepository) DeleteStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := repository.pool.Exec(ctx,
		`DELETE FROM users.refreshtoken WHERE isrevoked OR expiresat <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres_refresh_token_repo_delete_stale_failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// nullable maps "" to SQL NULL.
func nullable(value string) *string {
	if value == "" {
		return nil
	}
	return pointer.To(value)
}
