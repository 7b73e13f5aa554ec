package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/store"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "items.db"), "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestClaimLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTemp(t)
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Insert(ctx, "https://x.com/a", "news"))
	err := s.Insert(ctx, "https://x.com/a", "news")
	require.True(t, errors.Is(err, store.ErrDuplicate))

	ok, err := s.Exists(ctx, "https://x.com/a", "news")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Exists(ctx, "https://x.com/a", "blog")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Remove(ctx, "https://x.com/a", "news"))
	require.NoError(t, s.Insert(ctx, "https://x.com/a", "news"), "a compensated claim can be taken again")
}

func TestConcurrentInsertAdmitsOnce(t *testing.T) {
	t.Parallel()

	s := openTemp(t)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Insert(context.Background(), "same", "news") == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestExpireOlderThan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTemp(t)
	now := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)

	s.now = func() time.Time { return now.AddDate(0, 0, -10) }
	require.NoError(t, s.Insert(ctx, "old", "news"))
	s.now = func() time.Time { return now.AddDate(0, 0, -1) }
	require.NoError(t, s.Insert(ctx, "recent", "news"))
	s.now = func() time.Time { return now }

	n, err := store.Sweep(ctx, s, 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	ok, err := s.Exists(ctx, "old", "news")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOpenValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "", "", nil)
	require.True(t, errors.IsConfigurationMissing(err))

	_, err = Open(context.Background(), filepath.Join(t.TempDir(), "x.db"), "drop table", nil)
	require.Error(t, err)
}
