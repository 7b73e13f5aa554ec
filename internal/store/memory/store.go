// Package memory provides an in-process idempotency store for tests and dry
// runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/itemrelay/internal/store"
)

type key struct {
	id     string
	spider string
}

// Store keeps records in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	records map[key]time.Time
	now     func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		records: make(map[key]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewWithClock returns a Store that stamps records using now.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	if now != nil {
		s.now = now
	}
	return s
}

// Exists implements store.Store.
func (s *Store) Exists(_ context.Context, id, spider string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key{id, spider}]
	return ok, nil
}

// Insert implements store.Store.
func (s *Store) Insert(_ context.Context, id, spider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{id, spider}
	if _, ok := s.records[k]; ok {
		return store.ErrDuplicate
	}
	s.records[k] = s.now()
	return nil
}

// Remove implements store.Store.
func (s *Store) Remove(_ context.Context, id, spider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key{id, spider})
	return nil
}

// ExpireOlderThan implements store.Store.
func (s *Store) ExpireOlderThan(_ context.Context, age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-age)
	var n int64
	for k, seen := range s.records {
		if seen.Before(cutoff) {
			delete(s.records, k)
			n++
		}
	}
	return n, nil
}

// Ping implements store.Store.
func (s *Store) Ping(context.Context) error { return nil }

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
