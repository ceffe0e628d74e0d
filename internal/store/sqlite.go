package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aborealis/ragclient/internal/domain"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

// The table holds at most one row, keyed by the constant slot 1.
func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS chat_passport (
		slot INTEGER PRIMARY KEY CHECK (slot = 1),
		passport_id TEXT NOT NULL,
		ws_url TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetPassport returns the cached passport, or nil when none is stored.
func (s *SQLiteStore) GetPassport(ctx context.Context) (*domain.Passport, error) {
	row := s.db.QueryRowContext(ctx, `SELECT passport_id, ws_url FROM chat_passport WHERE slot = 1`)

	var p domain.Passport
	err := row.Scan(&p.ID, &p.WSURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan passport row: %w", err)
	}
	return &p, nil
}

// SavePassport replaces the cached passport.
func (s *SQLiteStore) SavePassport(ctx context.Context, p *domain.Passport) error {
	if p == nil {
		return errors.New("save passport: nil passport")
	}
	query := `
	INSERT INTO chat_passport (slot, passport_id, ws_url, updated_at)
	VALUES (1, ?, ?, ?)
	ON CONFLICT(slot) DO UPDATE SET
		passport_id = excluded.passport_id,
		ws_url = excluded.ws_url,
		updated_at = excluded.updated_at`

	return s.withRetry(ctx, "save passport", func() error {
		_, err := s.db.ExecContext(ctx, query, p.ID, p.WSURL, time.Now().Unix())
		return err
	})
}

// DeletePassport forgets the cached passport.
func (s *SQLiteStore) DeletePassport(ctx context.Context) error {
	return s.withRetry(ctx, "delete passport", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM chat_passport WHERE slot = 1`)
		return err
	})
}

// withRetry runs a write with exponential backoff on SQLITE_BUSY.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, write func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		s.mu.Lock()
		err = write()
		s.mu.Unlock()
		if err == nil {
			return nil
		}
		if !isConflict(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("SQLite write busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isConflict reports whether err is a SQLITE_BUSY or SQLITE_LOCKED failure,
// including extended result codes. Errors that lost their type on the way
// are matched by message.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
