package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/markdave123-py/Parley/internal/config"
	"github.com/markdave123-py/Parley/internal/core"
	"github.com/markdave123-py/Parley/internal/models"
)

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("DATABASE_PATH is empty")
	}
	return Open(ctx, cfg.DatabasePath)
}

// Open opens (creating if needed) the SQLite file at path and bootstraps the schema.
func Open(ctx context.Context, path string) (*DatabaseClient, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite has a single writer; one pooled connection serializes every operation.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(pingCtx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// storageErr maps driver failures onto the core error kinds.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%s: %w", op, core.ErrConflict)
	}
	return &core.StorageError{Op: op, Err: err}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeJSON(v any) (string, error) {
	if v == nil {
		return "{}", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeMetadata(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nowUTC() time.Time { return time.Now().UTC() }

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = nowUTC()
	}
	const q = `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := c.db.ExecContext(ctx, q, user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	return storageErr("create user", err)
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT id, email, password_hash, created_at FROM users WHERE email = ?`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return &u, nil
}

func (c *DatabaseClient) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	const q = `SELECT id, email, password_hash, created_at FROM users WHERE id = ?`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, storageErr("get user", err)
	}
	return &u, nil
}

// Refresh tokens

func (c *DatabaseClient) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token == nil {
		return errors.New("nil refresh token")
	}
	_, err := c.db.ExecContext(ctx, insertRefreshToken, refreshTokenArgs(token)...)
	return storageErr("create refresh token", err)
}

const insertRefreshToken = `
	INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, created_at)
	VALUES (?, ?, ?, ?, 0, ?)
`

func refreshTokenArgs(t *models.RefreshToken) []any {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = nowUTC()
	}
	return []any{t.ID, t.UserID, t.TokenHash, t.ExpiresAt.UTC(), t.CreatedAt}
}

func (c *DatabaseClient) GetActiveRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const q = `
		SELECT id, user_id, token_hash, expires_at, revoked, created_at
		FROM refresh_tokens
		WHERE token_hash = ? AND revoked = 0
	`
	var t models.RefreshToken
	err := c.db.QueryRowContext(ctx, q, tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	if err != nil {
		return nil, storageErr("get refresh token", err)
	}
	if !t.ExpiresAt.After(nowUTC()) {
		return nil, core.ErrNotFound
	}
	return &t, nil
}

// RotateRefreshToken revokes revokeID and stores next in one transaction.
// It fails with ErrNotFound when revokeID was already revoked.
func (c *DatabaseClient) RotateRefreshToken(ctx context.Context, revokeID string, next *models.RefreshToken) error {
	if next == nil {
		return errors.New("nil refresh token")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("rotate refresh token", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE id = ? AND revoked = 0`, revokeID)
	if err != nil {
		return storageErr("rotate refresh token", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, insertRefreshToken, refreshTokenArgs(next)...); err != nil {
		return storageErr("rotate refresh token", err)
	}
	return storageErr("rotate refresh token", tx.Commit())
}

func (c *DatabaseClient) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE token_hash = ?`, tokenHash)
	return storageErr("revoke refresh token", err)
}

// API keys

func (c *DatabaseClient) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key == nil {
		return errors.New("nil api key")
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = nowUTC()
	}
	if key.Scopes == nil {
		key.Scopes = []string{}
	}
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("encode scopes: %w", err)
	}
	const q = `
		INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, scopes, last_used_at, expires_at, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?, ?)
	`
	_, err = c.db.ExecContext(ctx, q,
		key.ID, key.UserID, key.KeyHash, key.KeyPrefix, key.Name, string(scopes),
		nullTime(key.ExpiresAt), key.IsActive, key.CreatedAt)
	return storageErr("create api key", err)
}

func (c *DatabaseClient) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	const q = `
		SELECT id, user_id, key_hash, key_prefix, name, scopes, last_used_at, expires_at, is_active, created_at
		FROM api_keys WHERE key_hash = ?
	`
	var (
		k        models.APIKey
		scopes   string
		lastUsed sql.NullTime
		expires  sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, q, keyHash).Scan(
		&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.Name, &scopes, &lastUsed, &expires, &k.IsActive, &k.CreatedAt,
	)
	if err != nil {
		return nil, storageErr("get api key", err)
	}
	_ = json.Unmarshal([]byte(scopes), &k.Scopes)
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	if expires.Valid {
		k.ExpiresAt = &expires.Time
	}
	return &k, nil
}

func (c *DatabaseClient) TouchAPIKey(ctx context.Context, keyHash string, at time.Time) error {
	_, err := c.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE key_hash = ?`, at.UTC(), keyHash)
	return storageErr("touch api key", err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Usage

func (c *DatabaseClient) GetUsageStats(ctx context.Context, userID string) (*models.UsageStats, error) {
	const q = `
		SELECT COUNT(m.id), COALESCE(SUM(m.token_count), 0), COALESCE(SUM(m.estimated_cost_usd), 0)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_id = ?
	`
	var s models.UsageStats
	if err := c.db.QueryRowContext(ctx, q, userID).Scan(&s.Messages, &s.Tokens, &s.EstimatedCostUSD); err != nil {
		return nil, storageErr("usage stats", err)
	}
	return &s, nil
}
