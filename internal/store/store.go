// Package store defines the idempotency store that records which items have
// been claimed by the pipeline.
//
// A record maps (id, spider) to the time it was first seen. Insert is the only
// way to create one and it enforces uniqueness atomically, so two concurrent
// pipelines for the same key can never both claim it.
package store

import (
	"context"
	"regexp"
	"time"

	"github.com/JakeFAU/itemrelay/internal/errors"
)

// ErrDuplicate is returned by Insert when the (id, spider) record exists.
var ErrDuplicate = errors.New("item already claimed")

// DefaultTable is the table used when none is configured.
const DefaultTable = "items"

// Store persists idempotency records.
type Store interface {
	// Exists reports whether a record for (id, spider) is present.
	Exists(ctx context.Context, id, spider string) (bool, error)
	// Insert claims (id, spider). It returns ErrDuplicate when the record is
	// already present and an error marked errors.ErrStoreUnavailable when the
	// backend cannot accept the write.
	Insert(ctx context.Context, id, spider string) error
	// Remove deletes the record. Removing an absent record is not an error.
	Remove(ctx context.Context, id, spider string) error
	// ExpireOlderThan deletes records first seen more than age ago and returns
	// how many were removed.
	ExpireOlderThan(ctx context.Context, age time.Duration) (int64, error)
	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
	Close() error
}

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TableName returns table or DefaultTable, rejecting unsafe identifiers.
func TableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", errors.Newf("invalid table name %q", table)
	}
	return table, nil
}

// Unavailable wraps err and marks it as errors.ErrStoreUnavailable.
func Unavailable(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), errors.ErrStoreUnavailable)
}

// Sweep runs ExpireOlderThan when expiryDays is positive and returns the number
// of records removed.
func Sweep(ctx context.Context, s Store, expiryDays int) (int64, error) {
	if expiryDays <= 0 {
		return 0, nil
	}
	n, err := s.ExpireOlderThan(ctx, time.Duration(expiryDays)*24*time.Hour)
	if err != nil {
		return 0, errors.Wrap(err, "expire records")
	}
	return n, nil
}
