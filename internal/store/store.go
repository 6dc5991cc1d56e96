// Package store owns the single embedded SQLite database file and the
// primitives every higher-level package builds on: pragma configuration,
// prepared-statement caching, and transactional execution.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store provides database operations with connection pooling and prepared statements.
type Store struct {
	db        *sql.DB
	stmtCache map[string]*sql.Stmt
	stmtMu    sync.RWMutex
}

// Config holds configuration for the database store.
type Config struct {
	Path     string
	MaxConns int
}

// pragmas are applied once per connection on open (spec §4.1): write-ahead
// journaling, normal synchronous mode, foreign keys on, temp store in
// memory, a 256 MiB memory-map hint, a 10 000-page cache, a 5 s busy
// timeout.
const pragmaDSNSuffix = "?_journal_mode=WAL" +
	"&_synchronous=NORMAL" +
	"&_foreign_keys=ON" +
	"&_temp_store=MEMORY" +
	"&_mmap_size=268435456" +
	"&_cache_size=10000" +
	"&_busy_timeout=5000"

// Open creates a new database store with the given configuration and runs
// all pending migrations.
func Open(cfg Config) (*Store, error) {
	connStr := cfg.Path + pragmaDSNSuffix

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		db:        db,
		stmtCache: make(map[string]*sql.Stmt),
	}

	mgr := NewMigrationManager(db)
	if err := mgr.RunMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	log.Info().Str("component", "store").Str("path", cfg.Path).Msg("database opened")
	return s, nil
}

// Close closes the database connection and all cached statements.
func (s *Store) Close() error {
	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	for _, stmt := range s.stmtCache {
		_ = stmt.Close()
	}
	s.stmtCache = nil

	return s.db.Close()
}

// Prepare returns a cached prepared statement, creating it if necessary.
func (s *Store) Prepare(query string) (*sql.Stmt, error) {
	s.stmtMu.RLock()
	stmt, ok := s.stmtCache[query]
	s.stmtMu.RUnlock()
	if ok {
		return stmt, nil
	}

	s.stmtMu.Lock()
	defer s.stmtMu.Unlock()

	if stmt, ok := s.stmtCache[query]; ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}

	s.stmtCache[query] = stmt
	return stmt, nil
}

// ExecContext executes a query that doesn't return rows, using a cached
// prepared statement when possible.
func (s *Store) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	stmt, err := s.Prepare(query)
	if err != nil {
		return s.db.ExecContext(ctx, query, args...)
	}
	return stmt.ExecContext(ctx, args...)
}

// QueryContext executes a query that returns rows.
func (s *Store) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	stmt, err := s.Prepare(query)
	if err != nil {
		return s.db.QueryContext(ctx, query, args...)
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext executes a query that returns a single row.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	stmt, err := s.Prepare(query)
	if err != nil {
		return s.db.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// Transaction runs fn inside a database transaction, committing on a nil
// return and rolling back otherwise. Any writer used inside fn should be
// the *sql.Tx it receives, not the Store's own connection.
func (s *Store) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Ping checks if the database connection is alive.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// DB returns the underlying database connection for direct access. Prefer
// the Store's own methods for cached-statement reuse.
func (s *Store) DB() *sql.DB {
	return s.db
}

// NowEpochMillis returns the current time as a millisecond epoch, the
// ordering value stored alongside every ISO-8601 timestamp (spec §3).
func NowEpochMillis(t time.Time) int64 {
	return t.UnixMilli()
}
