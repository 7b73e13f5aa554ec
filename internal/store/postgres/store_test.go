package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/store"
)

var fixedNow = time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewWithPool(mock, "items")
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func TestInsertClaimsRecord(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO items").
		WithArgs("https://x.com/a", "news", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Insert(context.Background(), "https://x.com/a", "news"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReportsDuplicateOnConflict(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO items").
		WithArgs("a", "news", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.Insert(context.Background(), "a", "news")
	require.True(t, errors.Is(err, store.ErrDuplicate))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMapsUniqueViolation(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO items").
		WithArgs("a", "news", fixedNow).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	err := s.Insert(context.Background(), "a", "news")
	require.True(t, errors.Is(err, store.ErrDuplicate))
}

func TestInsertMarksBackendFailureUnavailable(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO items").
		WithArgs("a", "news", fixedNow).
		WillReturnError(errors.New("conn closed"))

	err := s.Insert(context.Background(), "a", "news")
	require.True(t, errors.IsStoreUnavailable(err))
	require.False(t, errors.Is(err, store.ErrDuplicate))
}

func TestExists(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("a", "news").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("b", "news").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := s.Exists(context.Background(), "a", "news")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.Exists(context.Background(), "b", "news")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveAndExpire(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM items WHERE id").
		WithArgs("a", "news").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM items WHERE seen_at").
		WithArgs(fixedNow.Add(-48 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	require.NoError(t, s.Remove(context.Background(), "a", "news"))
	n, err := store.Sweep(context.Background(), s, 2)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateAndPing(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS items").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS items_seen_at_idx").
		WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))
	mock.ExpectPing().WillReturnError(errors.New("no route to host"))

	require.NoError(t, s.Migrate(context.Background()))
	err := s.Ping(context.Background())
	require.True(t, errors.IsStoreUnavailable(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRejectsMissingDSNAndBadTable(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.True(t, errors.IsConfigurationMissing(err))

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewWithPool(mock, "bad-name")
	require.Error(t, err)
	_, err = NewWithPool(nil, "items")
	require.Error(t, err)
}
