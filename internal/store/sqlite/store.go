// Package sqlite provides an embedded, file-backed idempotency store on the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/store"
)

// Store keeps idempotency records in a SQLite table. seen_at is stored as
// Unix nanoseconds so expiry is a plain integer comparison.
type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
}

// Open opens (creating when missing) the database at path and migrates the
// records table.
func Open(ctx context.Context, path, table string, logger *zap.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.Missing("store.path")
	}
	name, err := store.TableName(table)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, store.Unavailable(err, "open sqlite")
	}
	// A single writer avoids SQLITE_BUSY under concurrent claims.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, store.Unavailable(err, "configure sqlite")
		}
	}
	s := &Store{db: db, table: name, now: func() time.Time { return time.Now().UTC() }}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("sqlite store opened", zap.String("path", path), zap.String("table", name))
	return s, nil
}

// Migrate creates the records table and its expiry index.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT NOT NULL,
	spider TEXT NOT NULL,
	seen_at INTEGER NOT NULL,
	PRIMARY KEY (id, spider)
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_seen_at_idx ON %[1]s (seen_at)`, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return store.Unavailable(err, "migrate records table")
		}
	}
	return nil
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, id, spider string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = ? AND spider = ?)`, s.table)
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, id, spider).Scan(&exists); err != nil {
		return false, store.Unavailable(err, "lookup record")
	}
	return exists, nil
}

// Insert implements store.Store.
func (s *Store) Insert(ctx context.Context, id, spider string) error {
	query := fmt.Sprintf(`INSERT OR IGNORE INTO %s (id, spider, seen_at) VALUES (?, ?, ?)`, s.table)
	res, err := s.db.ExecContext(ctx, query, id, spider, s.now().UnixNano())
	if err != nil {
		return store.Unavailable(err, "insert record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Unavailable(err, "insert record")
	}
	if n == 0 {
		return store.ErrDuplicate
	}
	return nil
}

// Remove implements store.Store.
func (s *Store) Remove(ctx context.Context, id, spider string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND spider = ?`, s.table)
	if _, err := s.db.ExecContext(ctx, query, id, spider); err != nil {
		return store.Unavailable(err, "remove record")
	}
	return nil
}

// ExpireOlderThan implements store.Store.
func (s *Store) ExpireOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE seen_at < ?`, s.table)
	res, err := s.db.ExecContext(ctx, query, s.now().Add(-age).UnixNano())
	if err != nil {
		return 0, store.Unavailable(err, "expire records")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, store.Unavailable(err, "expire records")
	}
	return n, nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return store.Unavailable(err, "ping sqlite")
	}
	return nil
}

// Close implements store.Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
