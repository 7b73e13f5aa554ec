// Package archive writes each delivered payload to a blob store under a
// date-partitioned path.
package archive

import (
	"bytes"
	"context"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
	"github.com/JakeFAU/itemrelay/internal/storage"
)

// Name is the sink name reported in outcomes.
const Name = "archive"

const (
	contentType   = "application/json"
	unknownSpider = "unknown"
)

// Config configures the archive sink.
type Config struct {
	Prefix  string
	Exclude []string
}

// Sink archives payloads.
type Sink struct {
	store   storage.BlobStore
	prefix  string
	exclude []string
	now     func() time.Time
	newID   func() string
	caller  delivery.Caller
	closer  func() error
}

// New wraps store. closer, when non-nil, is called from Close.
func New(store storage.BlobStore, cfg Config, deps delivery.Deps, closer func() error) (*Sink, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Sink{
		store:   store,
		prefix:  cfg.Prefix,
		exclude: cfg.Exclude,
		now:     now,
		newID:   func() string { return uuid.NewString() },
		caller:  deps.Caller(Name),
		closer:  closer,
	}, nil
}

// Name implements delivery.Adapter.
func (s *Sink) Name() string { return Name }

// ObjectPath returns <prefix>/<spider>/<yyyy>/<mm>/<dd>/<id>.json.
func ObjectPath(prefix, spider string, at time.Time, id string) string {
	if spider == "" {
		spider = unknownSpider
	}
	at = at.UTC()
	return path.Join(prefix, spider, at.Format("2006"), at.Format("01"), at.Format("02"), id+".json")
}

// Deliver implements delivery.Adapter.
func (s *Sink) Deliver(ctx context.Context, it *item.Item) delivery.Outcome {
	return s.caller.Call(ctx, func(ctx context.Context) error {
		body, err := delivery.EncodePayload(it, s.exclude)
		if err != nil {
			return err
		}
		p := ObjectPath(s.prefix, delivery.SpiderFrom(ctx), s.now(), s.newID())
		if _, err := s.store.PutObject(ctx, p, contentType, bytes.NewReader(body)); err != nil {
			return errors.Wrap(err, "put object")
		}
		return nil
	})
}

// Close implements delivery.Adapter.
func (s *Sink) Close(context.Context) error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
