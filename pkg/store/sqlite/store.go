// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package sqlite provides a durable resource store backed by SQLite.
//
// Values survive restarts, so an observer that re-registers after a
// gateway restart sees the same ETag for an unchanged value.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/absmach/coapgw/examples/simple"
	"github.com/absmach/coapgw/pkg/errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPermissions    = 0o750
	connectionTimeout = 5 * time.Second
	connMaxIdleTime   = 30 * time.Minute
	msPerSecond       = 1000
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	path    TEXT PRIMARY KEY,
	value   BLOB NOT NULL,
	version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS version_counter (
	id    INTEGER PRIMARY KEY CHECK (id = 1),
	value INTEGER NOT NULL
);
INSERT OR IGNORE INTO version_counter (id, value) VALUES (1, 0);
`

// Config holds the database settings.
type Config struct {
	// Path is the database file. Its directory is created if missing.
	Path string

	// BusyTimeout is the lock wait in seconds.
	BusyTimeout int
}

// Store is a simple.Store persisted in SQLite.
type Store struct {
	db *sql.DB
}

var _ simple.Store = (*Store)(nil)

// Open opens or creates the database and its schema.
func Open(cfg Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.Path, cfg.BusyTimeout*msPerSecond)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the value and version stored at path.
func (s *Store) Get(ctx context.Context, path string) ([]byte, uint64, error) {
	var (
		value   []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT value, version FROM resources WHERE path = ?", path).Scan(&value, &version)
	switch {
	case err == sql.ErrNoRows:
		return nil, 0, errors.ErrNotFound
	case err != nil:
		return nil, 0, fmt.Errorf("reading %s: %w", path, err)
	}
	return value, uint64(version), nil
}

// Put stores value at path under the next version.
func (s *Store) Put(ctx context.Context, path string, value []byte) (uint64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var version int64
	if err := tx.QueryRowContext(ctx,
		"UPDATE version_counter SET value = value + 1 WHERE id = 1 RETURNING value").Scan(&version); err != nil {
		return 0, false, fmt.Errorf("advancing version: %w", err)
	}

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT 1 FROM resources WHERE path = ?", path).Scan(&exists)
	if err != nil && err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("reading %s: %w", path, err)
	}
	created := err == sql.ErrNoRows

	if value == nil {
		value = []byte{}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO resources (path, value, version) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET value = excluded.value, version = excluded.version`,
		path, value, version); err != nil {
		return 0, false, fmt.Errorf("writing %s: %w", path, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("committing %s: %w", path, err)
	}
	return uint64(version), created, nil
}

// Delete removes path. Deleting a missing path is not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM resources WHERE path = ?", path); err != nil {
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	return nil
}

// HealthCheck verifies the database answers queries.
func (s *Store) HealthCheck(ctx context.Context) error {
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
