package archive

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
	"github.com/JakeFAU/itemrelay/internal/storage/memory"
)

func TestObjectPath(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, time.March, 5, 23, 0, 0, 0, time.UTC)
	require.Equal(t, "items/news/2024/03/05/abc.json", ObjectPath("items", "news", at, "abc"))
	require.Equal(t, "unknown/2024/03/05/abc.json", ObjectPath("", "", at, "abc"))
}

func TestDeliverWritesPayload(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	closed := false
	s, err := New(blobs, Config{Prefix: "items", Exclude: []string{"body"}}, delivery.Deps{
		Now: func() time.Time { return time.Date(2024, time.January, 10, 8, 0, 0, 0, time.UTC) },
	}, func() error {
		closed = true
		return nil
	})
	require.NoError(t, err)
	s.newID = func() string { return "fixed" }

	it, err := item.FromPairs("_id", "a", "title", "Hi", "body", "long")
	require.NoError(t, err)
	out := s.Deliver(delivery.WithSpider(context.Background(), "news"), it)
	require.True(t, out.Delivered, "err: %v", out.Err)

	got, ok := blobs.Get("items/news/2024/01/10/fixed.json")
	require.True(t, ok, "paths: %v", blobs.Paths())
	require.Equal(t, `{"title":"Hi"}`, string(got))

	require.NoError(t, s.Close(context.Background()))
	require.True(t, closed)
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket gone")
}

func TestDeliverReportsStoreFailure(t *testing.T) {
	t.Parallel()

	s, err := New(failingStore{}, Config{}, delivery.Deps{}, nil)
	require.NoError(t, err)
	it, err := item.FromPairs("_id", "a")
	require.NoError(t, err)

	out := s.Deliver(context.Background(), it)
	require.False(t, out.Delivered)
	require.ErrorContains(t, out.Err, "bucket gone")
	require.NoError(t, s.Close(context.Background()))

	_, err = New(nil, Config{}, delivery.Deps{}, nil)
	require.Error(t, err)
}
