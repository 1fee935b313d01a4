package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/askbar/internal/domain"
	"github.com/ashureev/askbar/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	maxRetries = 3
	baseDelay  = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	historyMu sync.Mutex // serializes history writes to keep index based deletes consistent
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
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

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		preset TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_preset ON history(preset, id);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// withRetry runs fn, retrying SQLITE_BUSY conflicts with exponential backoff.
func withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := range maxRetries {
		err = fn()
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 100ms, 200ms, 400ms
		slog.Debug("sqlite conflict, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// History returns the committed turns for a preset, oldest first.
func (s *SQLiteStore) History(ctx context.Context, preset domain.Preset) ([]domain.ChatContent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT prompt, response FROM history WHERE preset = ? ORDER BY id`, preset.String())
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var out []domain.ChatContent
	for rows.Next() {
		var c domain.ChatContent
		if err := rows.Scan(&c.Prompt, &c.Response); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// AppendHistory adds one committed turn to the end of the preset history.
func (s *SQLiteStore) AppendHistory(ctx context.Context, preset domain.Preset, turn domain.ChatContent) error {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	return withRetry(ctx, "append history", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO history (preset, prompt, response, created_at) VALUES (?, ?, ?, ?)`,
			preset.String(), turn.Prompt, turn.Response, time.Now().Unix())
		return err
	})
}

// DeleteHistory removes the turn at index for preset.
func (s *SQLiteStore) DeleteHistory(ctx context.Context, preset domain.Preset, index int) (bool, error) {
	if index < 0 {
		return false, nil
	}
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM history WHERE preset = ? ORDER BY id LIMIT 1 OFFSET ?`,
		preset.String(), index).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("locate history entry: %w", err)
	}

	err = withRetry(ctx, "delete history", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetSetting returns the raw value for key.
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

// SetSetting creates or replaces the value for key.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	return withRetry(ctx, "set setting", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, time.Now().Unix())
		return err
	})
}

var _ Repository = (*SQLiteStore)(nil)
