// Package pubsub publishes item payloads to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"

	pubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/api/option"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
)

// Name is the sink name reported in outcomes.
const Name = "pubsub"

// Message attribute keys.
const (
	AttrSpider = "spider"
	AttrItemID = "item_id"
)

// Config configures the topic publisher.
type Config struct {
	ProjectID     string
	Topic         string
	Exclude       []string
	ClientOptions []option.ClientOption
}

// Sink wraps a Pub/Sub publisher client.
type Sink struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	exclude   []string
	caller    delivery.Caller
}

// New creates the client and topic publisher.
func New(ctx context.Context, cfg Config, deps delivery.Deps) (*Sink, error) {
	if cfg.ProjectID == "" {
		return nil, errors.Missing("sinks.pubsub.project_id")
	}
	if cfg.Topic == "" {
		return nil, errors.Missing("sinks.pubsub.topic")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, cfg.ClientOptions...)
	if err != nil {
		return nil, errors.SinkUnavailable(err, "pubsub client init")
	}
	return &Sink{
		client:    client,
		publisher: client.Publisher(cfg.Topic),
		exclude:   cfg.Exclude,
		caller:    deps.Caller(Name),
	}, nil
}

// Name implements delivery.Adapter.
func (s *Sink) Name() string { return Name }

// Deliver publishes the payload JSON and waits for the server ack.
func (s *Sink) Deliver(ctx context.Context, it *item.Item) delivery.Outcome {
	return s.caller.Call(ctx, func(ctx context.Context) error {
		data, err := delivery.EncodePayload(it, s.exclude)
		if err != nil {
			return err
		}
		msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
		if spider := delivery.SpiderFrom(ctx); spider != "" {
			msg.Attributes[AttrSpider] = spider
		}
		if id, ok := it.ID(); ok {
			msg.Attributes[AttrItemID] = id
		}
		if _, err := s.publisher.Publish(ctx, msg).Get(ctx); err != nil {
			return errors.Wrap(err, "publish message")
		}
		return nil
	})
}

// Close flushes pending messages and closes the client.
func (s *Sink) Close(context.Context) error {
	s.publisher.Stop()
	if err := s.client.Close(); err != nil {
		return errors.Wrap(err, "close pubsub client")
	}
	return nil
}
