// Package storage owns the SQLite database: schema bootstrap, light
// migrations, and the queries the engine runs. All access goes through a
// Querier so the same query helpers serve both ad-hoc reads and the
// engine's per-operation transactions.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	domainerrors "github.com/agentkit/agentd/pkg/domain/errors"
)

// timeLayout is the persisted timestamp format: RFC3339, millisecond
// precision, always UTC.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store wraps the SQLite handle.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open creates the parent directory if needed, opens the database with WAL
// and foreign keys enabled, and brings the schema up to date.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage")

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domainerrors.Internal("create database directory", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domainerrors.Internal("open database", err)
	}
	// The engine serializes writes through a single connection; SQLite
	// handles reader concurrency via WAL.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, logger: logger}
	if err := s.bootstrap(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("database ready", "path", path)
	return s, nil
}

// Close releases the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for read-only queries outside a transaction.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the filesystem location of the database file.
func (s *Store) Path() string { return s.path }

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domainerrors.Internal("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return domainerrors.Internal("commit transaction", err)
	}
	return nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return domainerrors.Internal("bootstrap schema", err)
	}
	return s.migrate(ctx)
}

// migrate adds columns older databases lack. Each addition is idempotent:
// presence is checked against table_info before altering.
func (s *Store) migrate(ctx context.Context) error {
	additions := []struct {
		table, column, ddl string
	}{
		{"sessions", "mode", "ALTER TABLE sessions ADD COLUMN mode TEXT NOT NULL DEFAULT 'normal'"},
		{"sessions", "safety_profile", "ALTER TABLE sessions ADD COLUMN safety_profile TEXT NOT NULL DEFAULT 'strict'"},
		{"sessions", "needs_replan", "ALTER TABLE sessions ADD COLUMN needs_replan INTEGER NOT NULL DEFAULT 0"},
		{"runs", "output_json", "ALTER TABLE runs ADD COLUMN output_json TEXT"},
		{"runs", "needs_replan", "ALTER TABLE runs ADD COLUMN needs_replan INTEGER NOT NULL DEFAULT 0"},
		{"steps", "risk", "ALTER TABLE steps ADD COLUMN risk TEXT NOT NULL DEFAULT 'low'"},
	}
	for _, a := range additions {
		ok, err := s.columnExists(ctx, a.table, a.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, a.ddl); err != nil {
			return domainerrors.Internal(fmt.Sprintf("add column %s.%s", a.table, a.column), err)
		}
		s.logger.Info("migrated column", "table", a.table, "column", a.column)
	}
	return nil
}

func (s *Store) columnExists(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, domainerrors.Internal("inspect table "+table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, domainerrors.Internal("scan table_info", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format(timeLayout)
}

// FormatTime renders t the way the store persists timestamps. The API layer
// uses it so response timestamps match the stored rows byte for byte.
func FormatTime(t time.Time) string {
	return formatTime(t)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	// CURRENT_TIMESTAMP defaults land here.
	return time.Parse("2006-01-02 15:04:05", s)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
