// Package grpcsink submits items to a feed aggregator over a single
// long-lived gRPC connection. Messages are built at runtime from descriptors,
// so no generated stubs are required.
package grpcsink

import (
	"context"
	"crypto/tls"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
)

// Name is the sink name reported in outcomes.
const Name = "grpc"

// Config configures the aggregator sink.
type Config struct {
	URI      string
	Token    string
	FeedID   string
	Package  string
	Insecure bool
	// Workers bounds the number of in-flight RPCs.
	Workers int
	Exclude []string
	// DialOptions are appended after the transport credentials.
	DialOptions []grpc.DialOption
}

// Sink implements delivery.Adapter for the feed aggregator.
type Sink struct {
	cfg    Config
	schema *Schema
	conn   *grpc.ClientConn
	sem    *semaphore.Weighted
	caller delivery.Caller
	logger *zap.Logger
}

// New validates cfg, builds the contract descriptors and opens the shared
// client connection. The connection is established lazily by gRPC.
func New(cfg Config, deps delivery.Deps) (*Sink, error) {
	required := []struct{ key, val string }{
		{"sinks.grpc.uri", cfg.URI},
		{"sinks.grpc.token", cfg.Token},
		{"sinks.grpc.feed_id", cfg.FeedID},
		{"sinks.grpc.package", cfg.Package},
	}
	for _, r := range required {
		if r.val == "" {
			return nil, errors.Missing(r.key)
		}
	}
	schema, err := NewSchema(cfg.Package)
	if err != nil {
		return nil, err
	}
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, cfg.DialOptions...)
	conn, err := grpc.NewClient(cfg.URI, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create grpc client")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		cfg:    cfg,
		schema: schema,
		conn:   conn,
		sem:    semaphore.NewWeighted(int64(workers)),
		caller: deps.Caller(Name),
		logger: logger.Named(Name),
	}, nil
}

// Name implements delivery.Adapter.
func (s *Sink) Name() string { return Name }

// Deliver implements delivery.Adapter.
func (s *Sink) Deliver(ctx context.Context, it *item.Item) delivery.Outcome {
	return s.caller.Call(ctx, func(ctx context.Context) error {
		req, err := s.feedMessage(it)
		if err != nil {
			return err
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return errors.Wrap(err, "wait for grpc worker")
		}
		defer s.sem.Release(1)

		resp := dynamicpb.NewMessage(s.schema.Response)
		if err := s.conn.Invoke(ctx, s.schema.Method, req, resp); err != nil {
			return errors.Wrap(err, "submit feed message")
		}
		id, _ := it.ID()
		s.logger.Debug("sent feed message", zap.String("item_id", id))
		return nil
	})
}

func (s *Sink) feedMessage(it *item.Item) (*dynamicpb.Message, error) {
	payload, err := delivery.EncodePayload(it, s.cfg.Exclude)
	if err != nil {
		return nil, err
	}
	id, _ := it.ID()
	msg := dynamicpb.NewMessage(s.schema.Feed)
	fields := s.schema.Feed.Fields()
	msg.Set(fields.ByName("token"), protoreflect.ValueOfString(s.cfg.Token))
	msg.Set(fields.ByName("feedId"), protoreflect.ValueOfString(s.cfg.FeedID))
	msg.Set(fields.ByName("messageId"), protoreflect.ValueOfString(id))
	msg.Set(fields.ByName("message"), protoreflect.ValueOfString(string(payload)))
	return msg, nil
}

// Close releases the shared connection.
func (s *Sink) Close(context.Context) error {
	if err := s.conn.Close(); err != nil {
		return errors.Wrap(err, "close grpc connection")
	}
	return nil
}
