package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
)

func TestSinkRecordsDeliveries(t *testing.T) {
	t.Parallel()

	s := New("recorder")
	it, err := item.FromPairs("_id", "a", "title", "Hi")
	require.NoError(t, err)

	out := s.Deliver(delivery.WithSpider(context.Background(), "news"), it)
	require.True(t, out.Delivered)
	require.Equal(t, []Delivery{{Spider: "news", ItemID: "a", Payload: []byte(`{"title":"Hi"}`)}}, s.Deliveries())

	require.NoError(t, s.Close(context.Background()))
	require.True(t, s.Closed())
}

func TestSinkFailureAndDelay(t *testing.T) {
	t.Parallel()

	failing := New("broken", WithFailure(func(*item.Item) error { return errors.New("down") }))
	out := failing.Deliver(context.Background(), item.New())
	require.False(t, out.Delivered)
	require.Empty(t, failing.Deliveries())

	slow := New("slow", WithDelay(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out = slow.Deliver(ctx, item.New())
	require.False(t, out.Delivered)
	require.True(t, errors.Is(out.Err, context.DeadlineExceeded))
}
