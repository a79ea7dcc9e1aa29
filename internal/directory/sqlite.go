package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codeflow-dev/codeflow/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteDirectory implements Directory using SQLite.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLite creates a SQLite-backed identity directory.
func NewSQLite(dbPath string) (*SQLiteDirectory, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	d := &SQLiteDirectory{db: db}
	if err := d.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return d, nil
}

func (d *SQLiteDirectory) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		avatar_url TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := d.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Lookup returns the user record for userID, or nil when unknown.
func (d *SQLiteDirectory) Lookup(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT user_id, username, avatar_url FROM users WHERE user_id = ?`

	row := d.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	err := row.Scan(&user.UserID, &user.Username, &user.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	return &user, nil
}

// Upsert creates or updates a user record.
func (d *SQLiteDirectory) Upsert(ctx context.Context, user *domain.User) error {
	now := time.Now().Unix()
	query := `
		INSERT INTO users (user_id, username, avatar_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`

	if _, err := d.db.ExecContext(ctx, query, user.UserID, user.Username, user.AvatarURL, now, now); err != nil {
		return fmt.Errorf("upsert user %s: %w", user.UserID, err)
	}
	return nil
}

// Ping verifies database connectivity.
func (d *SQLiteDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database connection.
func (d *SQLiteDirectory) Close() error {
	return d.db.Close()
}
