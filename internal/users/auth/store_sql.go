// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taibuivan/schedula/internal/platform/dberr"
	"github.com/taibuivan/schedula/internal/platform/sec"
)

// The SQL store runs the same contracts over database/sql with the embedded
// SQLite driver. Times are stored as unix milliseconds and booleans as 0/1.

var sqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS account (
		id           TEXT PRIMARY KEY,
		email        TEXT NOT NULL UNIQUE,
		passwordhash TEXT NOT NULL,
		role         TEXT NOT NULL CHECK (role IN ('CUSTOMER', 'EMPLOYEE', 'ADMIN')),
		customerid   TEXT,
		employeeid   TEXT,
		fingerprint  TEXT,
		createdat    INTEGER NOT NULL,
		updatedat    INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refreshtoken (
		id          TEXT PRIMARY KEY,
		tokenhash   TEXT NOT NULL UNIQUE,
		userid      TEXT NOT NULL REFERENCES account(id) ON DELETE CASCADE,
		fingerprint TEXT NOT NULL,
		expiresat   INTEGER NOT NULL,
		isrevoked   INTEGER NOT NULL DEFAULT 0,
		revokedat   INTEGER,
		createdat   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS refreshtoken_userid_idx ON refreshtoken (userid) WHERE isrevoked = 0`,
	`CREATE INDEX IF NOT EXISTS refreshtoken_expiresat_idx ON refreshtoken (expiresat)`,
}

// SQLStore bundles the SQL-backed repositories over one *sql.DB.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore wraps db. Call [SQLStore.Init] once before use.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Init creates the tables and indexes if they do not exist.
func (store *SQLStore) Init(ctx context.Context) error {
	for _, statement := range sqlSchema {
		if _, err := store.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("sql_store_init_failed: %w", err)
		}
	}
	return nil
}

// Ping checks the connection, for the readiness probe.
func (store *SQLStore) Ping(ctx context.Context) error {
	return store.db.PingContext(ctx)
}

// Users returns the [UserRepository] view of the store.
func (store *SQLStore) Users() *SQLUserRepository {
	return &SQLUserRepository{db: store.db}
}

// RefreshTokens returns the [RefreshTokenRepository] view of the store.
func (store *SQLStore) RefreshTokens() *SQLRefreshTokenRepository {
	return &SQLRefreshTokenRepository{db: store.db, now: store.now}
}

// # User Repository

// SQLUserRepository implements [UserRepository] on the account table.
type SQLUserRepository struct {
	db *sql.DB
}

const sqlUserColumns = `id, email, passwordhash, role, customerid, employeeid, fingerprint, createdat, updatedat`

// FindByID retrieves a user by primary key.
func (repository *SQLUserRepository) FindByID(ctx context.Context, id string) (*User, error) {
	row := repository.db.QueryRowContext(ctx, `SELECT `+sqlUserColumns+` FROM account WHERE id = ?`, id)
	user, err := scanSQLUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("sql_user_repo_find_by_id_failed: %w", err)
	}
	return user, nil
}

// FindByEmail retrieves a user by exact email.
func (repository *SQLUserRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := repository.db.QueryRowContext(ctx, `SELECT `+sqlUserColumns+` FROM account WHERE email = ?`, email)
	user, err := scanSQLUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("sql_user_repo_find_by_email_failed: %w", err)
	}
	return user, nil
}

// Create persists a new user, initialising timestamps when absent.
func (repository *SQLUserRepository) Create(ctx context.Context, user *User) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err := repository.db.ExecContext(ctx, `
		INSERT INTO account (
			id, email, passwordhash, role, customerid, employeeid, fingerprint, createdat, updatedat
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.PasswordHash,
		string(user.Role),
		nullable(user.CustomerID),
		nullable(user.EmployeeID),
		nullable(user.Fingerprint),
		user.CreatedAt.UnixMilli(),
		user.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if dberr.IsUniqueViolation(err) {
			return dberr.Wrap(err, "User")
		}
		return fmt.Errorf("sql_user_repo_create_failed: %w", err)
	}
	return nil
}

func scanSQLUser(row *sql.Row) (*User, error) {
	var (
		user                               User
		role                               string
		customerID, employeeID, fingerprint sql.NullString
		createdAt, updatedAt               int64
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&role,
		&customerID,
		&employeeID,
		&fingerprint,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	user.Role = sec.UserRole(role)
	user.CustomerID = customerID.String
	user.EmployeeID = employeeID.String
	user.Fingerprint = fingerprint.String
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	user.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &user, nil
}

// # Refresh Token Repository

// SQLRefreshTokenRepository implements [RefreshTokenRepository] on the refreshtoken table.
type SQLRefreshTokenRepository struct {
	db  *sql.DB
	now func() time.Time
}

const sqlInsertToken = `
	INSERT INTO refreshtoken (
		id, tokenhash, userid, fingerprint, expiresat, isrevoked, createdat
	) VALUES (?, ?, ?, ?, ?, 0, ?)`

// Create persists a login's refresh token, binds the user's fingerprint and
// revokes any token still active for that fingerprint.
func (repository *SQLRefreshTokenRepository) Create(ctx context.Context, token *RefreshToken) error {
	tx, err := repository.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql_refresh_token_repo_create_failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`UPDATE account SET fingerprint = ?, updatedat = ? WHERE id = ?`,
		token.Fingerprint, token.CreatedAt.UnixMilli(), token.UserID,
	)
	if err != nil {
		return fmt.Errorf("sql_refresh_token_repo_bind_fingerprint_failed: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrUserNotFound
	}

	// One trusted token per device: a re-login retires the previous one.
	if _, err := tx.ExecContext(ctx,
		`UPDATE refreshtoken SET isrevoked = 1, revokedat = ?
		 WHERE userid = ? AND fingerprint = ? AND isrevoked = 0`,
		token.CreatedAt.UnixMilli(), token.UserID, token.Fingerprint,
	); err != nil {
		return fmt.Errorf("sql_refresh_token_repo_revoke_device_failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqlInsertToken,
		token.ID, token.TokenHash, token.UserID, token.Fingerprint, token.ExpiresAt.UnixMilli(), token.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("sql_refresh_token_repo_create_failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql_refresh_token_repo_create_commit_failed: %w", err)
	}
	return nil
}

// FindByTokenHash returns the ACTIVE, unexpired record for tokenHash.
func (repository *SQLRefreshTokenRepository) FindByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	row := repository.db.QueryRowContext(ctx, `
		SELECT id, tokenhash, userid, fingerprint, expiresat, isrevoked, revokedat, createdat
		FROM refreshtoken
		WHERE tokenhash = ? AND isrevoked = 0 AND expiresat > ?`,
		tokenHash, repository.now().UnixMilli(),
	)

	var (
		token                RefreshToken
		expiresAt, createdAt int64
		revoked              int
		revokedAt            sql.NullInt64
	)
	err := row.Scan(&token.ID, &token.TokenHash, &token.UserID, &token.Fingerprint, &expiresAt, &revoked, &revokedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("sql_refresh_token_repo_find_failed: %w", err)
	}

	token.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	token.CreatedAt = time.UnixMilli(createdAt).UTC()
	token.IsRevoked = revoked != 0
	if revokedAt.Valid {
		at := time.UnixMilli(revokedAt.Int64).UTC()
		token.RevokedAt = &at
	}
	return &token, nil
}

// Rotate revokes current and inserts next in one transaction.
func (repository *SQLRefreshTokenRepository) Rotate(ctx context.Context, current *RefreshToken, next *RefreshToken) error {
	tx, err := repository.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sql_refresh_token_repo_rotate_failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := next.CreatedAt.UnixMilli()
	result, err := tx.ExecContext(ctx, `
		UPDATE refreshtoken
		SET isrevoked = 1, revokedat = ?
		WHERE id = ? AND isrevoked = 0 AND expiresat > ?`,
		at, current.ID, at,
	)
	if err != nil {
		return fmt.Errorf("sql_refresh_token_repo_revoke_failed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sql_refresh_token_repo_revoke_failed: %w", err)
	}
	if affected == 0 {
		return ErrRefreshTokenConsumed
	}

	if _, err := tx.ExecContext(ctx, sqlInsertToken,
		next.ID, next.TokenHash, next.UserID, next.Fingerprint, next.ExpiresAt.UnixMilli(), at,
	); err != nil {
		return fmt.Errorf("sql_refresh_token_repo_insert_failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql_refresh_token_repo_rotate_commit_failed: %w", err)
	}
	return nil
}

const sqlRevokeAll = `UPDATE refreshtoken SET isrevoked = 1, revokedat = ? WHERE userid = ? AND isrevoked = 0`

// RevokeAll revokes every active token of userID.
func (repository *SQLRefreshTokenRepository) RevokeAll(ctx context.Context, userID string) (int64, error) {
	result, err := repository.db.ExecContext(ctx, sqlRevokeAll, repository.now().UnixMilli(), userID)
	if err != nil {
		return 0, fmt.Errorf("sql_refresh_token_repo_revoke_all_failed: %w", err)
	}
	return result.RowsAffected()
}

// EndSessions revokes all tokens of userID and clears the fingerprint.
func (repository *SQLRefreshTokenRepository) EndSessions(ctx context.Context, userID string) (int64, error) {
	now := repository.now().UnixMilli()

	tx, err := repository.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sql_refresh_token_repo_end_sessions_failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, sqlRevokeAll, now, userID)
	if err != nil {
		return 0, fmt.Errorf("sql_refresh_token_repo_end_sessions_revoke_failed: %w", err)
	}
	revoked, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sql_refresh_token_repo_end_sessions_revoke_failed: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE account SET fingerprint = NULL, updatedat = ? WHERE id = ?`,
		now, userID,
	); err != nil {
		return 0, fmt.Errorf("sql_refresh_token_repo_end_sessions_clear_failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sql_refresh_token_repo_end_sessions_commit_failed: %w", err)
	}
	return revoked, nil
}

// DeleteStale removes revoked or expired tokens.
func (repository *SQLRefreshTokenRepository) DeleteStale(ctx context.Context, now time.Time) (int64, error) {
	result, err := repository.db.ExecContext(ctx,
		`DELETE FROM refreshtoken WHERE isrevoked = 1 OR expiresat <= ?`,
		now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("sql_refresh_token_repo_delete_stale_failed: %w", err)
	}
	return result.RowsAffected()
}
