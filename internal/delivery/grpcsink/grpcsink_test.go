package grpcsink

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
)

type received struct {
	token, feedID, messageID, message string
}

type ingress struct {
	mu       sync.Mutex
	messages []received
	fail     error
	block    chan struct{}
}

func (g *ingress) snapshot() []received {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]received(nil), g.messages...)
}

func startIngress(t *testing.T, pkg string, g *ingress) *bufconn.Listener {
	t.Helper()
	schema, err := NewSchema(pkg)
	require.NoError(t, err)

	desc := grpc.ServiceDesc{
		ServiceName: schema.Service,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: MethodName,
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := dynamicpb.NewMessage(schema.Feed)
				if err := dec(in); err != nil {
					return nil, err
				}
				if g.block != nil {
					select {
					case <-g.block:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				}
				if g.fail != nil {
					return nil, g.fail
				}
				f := schema.Feed.Fields()
				g.mu.Lock()
				g.messages = append(g.messages, received{
					token:     in.Get(f.ByName("token")).String(),
					feedID:    in.Get(f.ByName("feedId")).String(),
					messageID: in.Get(f.ByName("messageId")).String(),
					message:   in.Get(f.ByName("message")).String(),
				})
				g.mu.Unlock()
				return dynamicpb.NewMessage(schema.Response), nil
			},
		}},
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&desc, g)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func newSink(t *testing.T, lis *bufconn.Listener, cfg Config, timeout time.Duration) *Sink {
	t.Helper()
	cfg.URI = "passthrough:///bufnet"
	cfg.Insecure = true
	cfg.DialOptions = []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}
	s, err := New(cfg, delivery.Deps{Timeout: timeout})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func sample(t *testing.T) *item.Item {
	t.Helper()
	it, err := item.Parse([]byte(`{"_id":"https://x.com/a","title":"Hi","secret":"s"}`))
	require.NoError(t, err)
	return it
}

func TestDeliverSubmitsFeedMessage(t *testing.T) {
	t.Parallel()

	g := &ingress{}
	lis := startIngress(t, "feeds", g)
	s := newSink(t, lis, Config{Token: "tok", FeedID: "feed-1", Package: "feeds", Workers: 2, Exclude: []string{"secret"}}, 5*time.Second)

	out := s.Deliver(context.Background(), sample(t))
	require.True(t, out.Delivered, "err: %v", out.Err)
	require.Equal(t, Name, out.Sink)

	got := g.snapshot()
	require.Equal(t, []received{{
		token:     "tok",
		feedID:    "feed-1",
		messageID: "https://x.com/a",
		message:   `{"title":"Hi"}`,
	}}, got)
}

func TestDeliverReportsRPCFailure(t *testing.T) {
	t.Parallel()

	g := &ingress{fail: status.Error(codes.Unavailable, "aggregator down")}
	lis := startIngress(t, "feeds", g)
	s := newSink(t, lis, Config{Token: "tok", FeedID: "f", Package: "feeds", Workers: 1}, 5*time.Second)

	out := s.Deliver(context.Background(), sample(t))
	require.False(t, out.Delivered)
	require.True(t, errors.Is(out.Err, errors.ErrDeliveryFailed))
	require.Equal(t, codes.Unavailable, status.Code(errors.UnwrapAll(out.Err)))
}

func TestSlowAggregatorIsBoundedByTimeout(t *testing.T) {
	t.Parallel()

	g := &ingress{block: make(chan struct{})}
	t.Cleanup(func() { close(g.block) })
	lis := startIngress(t, "feeds", g)
	s := newSink(t, lis, Config{Token: "tok", FeedID: "f", Package: "feeds", Workers: 1}, 100*time.Millisecond)

	start := time.Now()
	out := s.Deliver(context.Background(), sample(t))
	require.False(t, out.Delivered)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestWrongPackageIsUnimplemented(t *testing.T) {
	t.Parallel()

	lis := startIngress(t, "feeds", &ingress{})
	s := newSink(t, lis, Config{Token: "tok", FeedID: "f", Package: "other", Workers: 1}, 5*time.Second)

	out := s.Deliver(context.Background(), sample(t))
	require.False(t, out.Delivered)
	require.Equal(t, codes.Unimplemented, status.Code(errors.UnwrapAll(out.Err)))
}

func TestNewRequiresConfiguration(t *testing.T) {
	t.Parallel()

	_, err := New(Config{URI: "feeds.example:443", Token: "t", FeedID: "f"}, delivery.Deps{})
	require.True(t, errors.IsConfigurationMissing(err))
	require.ErrorContains(t, err, "sinks.grpc.package")

	schema, err := NewSchema("acme.feeds.v1")
	require.NoError(t, err)
	require.Equal(t, "/acme.feeds.v1.IngressService/SubmitFeedMessage", schema.Method)
}
