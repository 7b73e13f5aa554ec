package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
)

type feed struct {
	srv         *httptest.Server
	frames      chan string
	connections atomic.Int32
	closes      chan int
}

func startFeed(t *testing.T) *feed {
	t.Helper()
	f := &feed{frames: make(chan string, 16), closes: make(chan int, 4)}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.connections.Add(1)
		defer func() { _ = conn.Close() }()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					f.closes <- ce.Code
				}
				return
			}
			f.frames <- string(data)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *feed) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *feed) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-f.frames:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func sample(t *testing.T, title string) *item.Item {
	t.Helper()
	it, err := item.FromPairs("_id", "https://x.com/"+title, "title", title)
	require.NoError(t, err)
	return it
}

func TestDeliverWritesTextFrames(t *testing.T) {
	t.Parallel()

	f := startFeed(t)
	s, err := New(context.Background(), Config{URI: f.url()}, delivery.Deps{Timeout: time.Second})
	require.NoError(t, err)

	require.True(t, s.Deliver(context.Background(), sample(t, "one")).Delivered)
	require.True(t, s.Deliver(context.Background(), sample(t, "two")).Delivered)
	require.Equal(t, `{"title":"one"}`, f.next(t))
	require.Equal(t, `{"title":"two"}`, f.next(t))

	require.NoError(t, s.Close(context.Background()))
	select {
	case code := <-f.closes:
		require.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw a close frame")
	}
	require.NoError(t, s.Close(context.Background()), "second close is a no-op")
}

func TestWriteFailureReconnectsOnce(t *testing.T) {
	t.Parallel()

	f := startFeed(t)
	s, err := New(context.Background(), Config{URI: f.url()}, delivery.Deps{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	// break the connection underneath the sink
	s.mu.Lock()
	_ = s.conn.Close()
	s.mu.Unlock()

	out := s.Deliver(context.Background(), sample(t, "lost"))
	require.False(t, out.Delivered)
	require.True(t, errors.Is(out.Err, errors.ErrDeliveryFailed))

	out = s.Deliver(context.Background(), sample(t, "after"))
	require.True(t, out.Delivered, "err: %v", out.Err)
	require.Equal(t, `{"title":"after"}`, f.next(t))
	require.Equal(t, int32(2), f.connections.Load())
}

func TestReconnectSurvivesExpiredCallContext(t *testing.T) {
	t.Parallel()

	f := startFeed(t)
	s, err := New(context.Background(), Config{URI: f.url()}, delivery.Deps{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	out := s.Deliver(expired, sample(t, "late"))
	require.False(t, out.Delivered)

	s.mu.Lock()
	reconnected := s.conn != nil
	s.mu.Unlock()
	require.True(t, reconnected, "the reconnect must not inherit the expired deadline")

	out = s.Deliver(context.Background(), sample(t, "next"))
	require.True(t, out.Delivered, "err: %v", out.Err)
	require.Equal(t, `{"title":"next"}`, f.next(t))
	require.Equal(t, int32(2), f.connections.Load())
}

func TestNewStartsDisconnectedWhenUnreachable(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, delivery.Deps{})
	require.True(t, errors.IsConfigurationMissing(err))

	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()
	s, err := New(context.Background(), Config{URI: url}, delivery.Deps{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	out := s.Deliver(context.Background(), sample(t, "down"))
	require.False(t, out.Delivered)
	require.True(t, errors.Is(out.Err, errors.ErrDeliveryFailed))
}

func TestLazyDialAfterStartupOutage(t *testing.T) {
	t.Parallel()

	f := startFeed(t)
	s, err := New(context.Background(), Config{URI: f.url()}, delivery.Deps{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	// simulate a sink that came up disconnected
	s.mu.Lock()
	_ = s.conn.Close()
	s.conn = nil
	s.mu.Unlock()

	out := s.Deliver(context.Background(), sample(t, "first"))
	require.True(t, out.Delivered, "err: %v", out.Err)
	require.Equal(t, `{"title":"first"}`, f.next(t))
}
