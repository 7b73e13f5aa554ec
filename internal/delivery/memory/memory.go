// Package memory contains an in-memory sink that records deliveries for tests
// and dry runs.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/item"
)

// Delivery captures one Deliver call.
type Delivery struct {
	Spider  string
	ItemID  string
	Payload []byte
}

// Sink stores delivered payloads for inspection. Fail, when set, decides
// per item whether the delivery fails.
type Sink struct {
	name  string
	delay time.Duration
	fail  func(*item.Item) error

	mu         sync.RWMutex
	deliveries []Delivery
	closed     bool
}

// Option customizes a Sink.
type Option func(*Sink)

// WithFailure makes Deliver fail whenever fn returns an error.
func WithFailure(fn func(*item.Item) error) Option {
	return func(s *Sink) { s.fail = fn }
}

// WithDelay delays every delivery, honoring context cancellation.
func WithDelay(d time.Duration) Option {
	return func(s *Sink) { s.delay = d }
}

// New returns a recording sink with the given name.
func New(name string, opts ...Option) *Sink {
	s := &Sink{name: name}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements delivery.Adapter.
func (s *Sink) Name() string { return s.name }

// Deliver records the payload and reports success unless configured to fail.
func (s *Sink) Deliver(ctx context.Context, it *item.Item) delivery.Outcome {
	return delivery.Caller{Sink: s.name}.Call(ctx, func(ctx context.Context) error {
		if s.delay > 0 {
			t := time.NewTimer(s.delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if s.fail != nil {
			if err := s.fail(it); err != nil {
				return err
			}
		}
		payload, err := delivery.EncodePayload(it, nil)
		if err != nil {
			return err
		}
		id, _ := it.ID()
		s.mu.Lock()
		defer s.mu.Unlock()
		s.deliveries = append(s.deliveries, Delivery{Spider: delivery.SpiderFrom(ctx), ItemID: id, Payload: payload})
		return nil
	})
}

// Close implements delivery.Adapter.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Deliveries returns the recorded deliveries.
func (s *Sink) Deliveries() []Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// Closed reports whether Close was called.
func (s *Sink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
