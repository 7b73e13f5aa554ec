// Package delivery defines the sink adapter contract and the per-call
// machinery shared by every adapter: timeouts, rate limiting, panic capture
// and outcome timing.
package delivery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
)

// Adapter delivers items to one downstream system. Deliver must not mutate
// the item and must report every failure through the Outcome.
type Adapter interface {
	Name() string
	Deliver(ctx context.Context, it *item.Item) Outcome
	Close(ctx context.Context) error
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	Sink      string
	Delivered bool
	Err       error
	Duration  time.Duration
}

// Waiter blocks until the named sink may send again.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Caller wraps a single delivery attempt.
type Caller struct {
	Sink    string
	Timeout time.Duration
	Limiter Waiter
	Logger  *zap.Logger
}

// Call runs send under the caller's timeout and limiter. Errors and panics
// become a failed Outcome marked errors.ErrDeliveryFailed.
func (c Caller) Call(ctx context.Context, send func(context.Context) error) (out Outcome) {
	start := time.Now()
	out.Sink = c.Sink
	defer func() {
		if r := recover(); r != nil {
			out.Delivered = false
			out.Err = errors.Mark(errors.Newf("sink %s panicked: %v", c.Sink, r), errors.ErrDeliveryFailed)
		}
		out.Duration = time.Since(start)
		if out.Err != nil && c.Logger != nil {
			c.Logger.Warn("delivery failed", zap.String("sink", c.Sink), zap.Error(out.Err))
		}
	}()

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx, c.Sink); err != nil {
			out.Err = Failed(err, "rate limit")
			return out
		}
	}
	if err := send(ctx); err != nil {
		out.Err = Failed(err, fmt.Sprintf("deliver to %s", c.Sink))
		return out
	}
	out.Delivered = true
	return out
}

// Failed wraps err and marks it errors.ErrDeliveryFailed.
func Failed(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), errors.ErrDeliveryFailed)
}

// EncodePayload returns the JSON payload for it with control fields and the
// excluded keys removed.
func EncodePayload(it *item.Item, exclude []string) ([]byte, error) {
	body, err := it.Payload(exclude...).MarshalJSON()
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return body, nil
}

type spiderKey struct{}

// WithSpider attaches the producing spider's name to ctx so sinks that label
// or partition by spider can read it.
func WithSpider(ctx context.Context, spider string) context.Context {
	return context.WithValue(ctx, spiderKey{}, spider)
}

// SpiderFrom returns the spider attached by WithSpider, or "".
func SpiderFrom(ctx context.Context) string {
	s, _ := ctx.Value(spiderKey{}).(string)
	return s
}
