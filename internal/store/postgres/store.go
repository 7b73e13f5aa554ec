// Package postgres provides the Postgres-backed idempotency store.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/store"
)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool used for idempotency records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// Store keeps idempotency records in a single Postgres table keyed by
// (id, spider).
type Store struct {
	pool  pool
	table string
	now   func() time.Time
}

// New connects to Postgres, verifies connectivity and creates the table when
// missing. Connection failures are marked errors.ErrStoreUnavailable.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.Missing("store.dsn")
	}
	table, err := store.TableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, store.Unavailable(err, "connect postgres")
	}
	s := &Store{pool: p, table: table, now: utcNow}
	if err := s.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := store.TableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, table: name, now: utcNow}, nil
}

func utcNow() time.Time { return time.Now().UTC() }

// Migrate creates the records table and its expiry index.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT NOT NULL,
	spider TEXT NOT NULL,
	seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, spider)
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_seen_at_idx ON %[1]s (seen_at)`, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return store.Unavailable(err, "migrate records table")
		}
	}
	return nil
}

// Exists implements store.Store.
func (s *Store) Exists(ctx context.Context, id, spider string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND spider = $2)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, id, spider).Scan(&exists); err != nil {
		return false, store.Unavailable(err, "lookup record")
	}
	return exists, nil
}

// Insert implements store.Store. The conflict clause makes the uniqueness
// check and the write a single statement.
func (s *Store) Insert(ctx context.Context, id, spider string) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (id, spider, seen_at) VALUES ($1, $2, $3) ON CONFLICT (id, spider) DO NOTHING`,
		s.table,
	)
	tag, err := s.pool.Exec(ctx, query, id, spider, s.now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrDuplicate
		}
		return store.Unavailable(err, "insert record")
	}
	if tag.RowsAffected() == 0 {
		return store.ErrDuplicate
	}
	return nil
}

// Remove implements store.Store.
func (s *Store) Remove(ctx context.Context, id, spider string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND spider = $2`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, spider); err != nil {
		return store.Unavailable(err, "remove record")
	}
	return nil
}

// ExpireOlderThan implements store.Store.
func (s *Store) ExpireOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE seen_at < $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, s.now().Add(-age))
	if err != nil {
		return 0, store.Unavailable(err, "expire records")
	}
	return tag.RowsAffected(), nil
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return store.Unavailable(err, "ping postgres")
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
