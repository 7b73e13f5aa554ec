// Package pipeline admits items, fans them out to every configured sink and
// compensates the idempotency claim when no sink accepted the item.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/freshness"
	"github.com/JakeFAU/itemrelay/internal/item"
	"github.com/JakeFAU/itemrelay/internal/progress"
	"github.com/JakeFAU/itemrelay/internal/store"
	"github.com/JakeFAU/itemrelay/internal/validation"
)

// DefaultCompensateTimeout bounds claim removal after an undelivered item.
const DefaultCompensateTimeout = 5 * time.Second

// Config wires the pipeline's collaborators. Store is required; every other
// field has a usable zero value.
type Config struct {
	Store      store.Store
	Validation *validation.Stage
	Freshness  freshness.Filter
	Adapters   []delivery.Adapter
	Emitter    progress.Emitter
	Logger     *zap.Logger
	// CompensateTimeout bounds claim removal. It runs detached from the
	// caller's context so a cancelled request still releases its claim.
	CompensateTimeout time.Duration
}

// Result summarizes one Process call.
type Result struct {
	Item        *item.Item
	Discard     *Discard
	Err         error
	Outcomes    []delivery.Outcome
	Delivered   bool
	Compensated bool
}

// Pipeline processes items. It is safe for concurrent use.
type Pipeline struct {
	pre      *PreProcessor
	post     *PostProcessor
	adapters []delivery.Adapter
	emitter  progress.Emitter
	logger   *zap.Logger
	now      func() time.Time

	compensateTimeout time.Duration
}

// New validates cfg and returns a ready Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline requires an idempotency store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = progress.NopEmitter{}
	}
	if len(cfg.Adapters) == 0 {
		logger.Warn("no sinks configured, every claimed item will be compensated")
	}
	compensateTimeout := cfg.CompensateTimeout
	if compensateTimeout <= 0 {
		compensateTimeout = DefaultCompensateTimeout
	}
	return &Pipeline{
		pre: &PreProcessor{
			Store:      cfg.Store,
			Validation: cfg.Validation,
			Freshness:  cfg.Freshness,
			Logger:     logger,
		},
		post:     &PostProcessor{Store: cfg.Store, Logger: logger},
		adapters: append([]delivery.Adapter(nil), cfg.Adapters...),
		emitter:  emitter,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },

		compensateTimeout: compensateTimeout,
	}, nil
}

// Sinks returns the names of the active adapters in fan-out order.
func (p *Pipeline) Sinks() []string {
	names := make([]string, len(p.adapters))
	for i, a := range p.adapters {
		names[i] = a.Name()
	}
	return names
}

// Process runs it through pre-processing, delivers it to every sink
// concurrently, records whether any sink accepted it and compensates the
// claim otherwise. The item is mutated in place.
func (p *Pipeline) Process(ctx context.Context, spider string, it *item.Item) Result {
	started := p.now()
	run := runEvents{emitter: p.emitter, id: progress.UUIDToBytes(uuid.New()), spider: spider, now: p.now}
	res := Result{Item: it}

	d, err := p.pre.Process(ctx, spider, it)
	id, _ := it.ID()
	run.itemID = id
	switch {
	case err != nil:
		res.Err = err
		p.logger.Error("item rejected by idempotency store",
			zap.String("spider", spider), zap.String("item_id", id), zap.Error(err))
		run.emit(progress.Event{Stage: progress.StageItemError, Note: err.Error()})
		return res
	case d != nil:
		res.Discard = d
		p.logger.Debug("item discarded",
			zap.String("spider", spider), zap.String("item_id", id),
			zap.String("reason", string(d.Reason)), zap.String("detail", d.Detail))
		run.emit(progress.Event{Stage: progress.StageItemDiscarded, Reason: string(d.Reason)})
		return res
	}

	res.Outcomes = p.fanOut(delivery.WithSpider(ctx, spider), it)
	for _, out := range res.Outcomes {
		if out.Delivered {
			res.Delivered = true
		}
		evt := progress.Event{
			Stage:  progress.StageDelivery,
			Sink:   out.Sink,
			Result: progress.DeliveryResult(out.Delivered),
			Dur:    out.Duration,
		}
		if out.Err != nil {
			evt.Note = out.Err.Error()
		}
		run.emit(evt)
	}
	it.Set(item.FieldDelivered, res.Delivered)

	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.compensateTimeout)
	compensated, err := p.post.Process(postCtx, spider, it)
	cancel()
	res.Compensated = compensated
	switch {
	case err != nil:
		run.emit(progress.Event{Stage: progress.StageCompensateFail, Note: err.Error()})
	case compensated:
		p.logger.Info("item reached no sink, claim removed",
			zap.String("spider", spider), zap.String("item_id", id))
		run.emit(progress.Event{Stage: progress.StageCompensated})
	}

	result := progress.ResultUndelivered
	if res.Delivered {
		result = progress.ResultDelivered
	}
	run.emit(progress.Event{Stage: progress.StageItemDone, Result: result, Dur: p.now().Sub(started)})
	return res
}

// fanOut delivers it to every adapter concurrently and returns the outcomes
// in adapter order. A panicking adapter yields a failed outcome.
func (p *Pipeline) fanOut(ctx context.Context, it *item.Item) []delivery.Outcome {
	outcomes := make([]delivery.Outcome, len(p.adapters))
	wp := pool.New()
	for i, a := range p.adapters {
		wp.Go(func() {
			var catcher panics.Catcher
			catcher.Try(func() {
				outcomes[i] = a.Deliver(ctx, it)
			})
			if r := catcher.Recovered(); r != nil {
				outcomes[i] = delivery.Outcome{
					Sink: a.Name(),
					Err:  delivery.Failed(r.AsError(), "adapter panicked"),
				}
			}
			if outcomes[i].Sink == "" {
				outcomes[i].Sink = a.Name()
			}
		})
	}
	wp.Wait()
	return outcomes
}

// Close closes every adapter. All adapters are attempted and their errors
// joined.
func (p *Pipeline) Close(ctx context.Context) error {
	return delivery.CloseAll(ctx, p.adapters)
}

type runEvents struct {
	emitter progress.Emitter
	id      [16]byte
	spider  string
	itemID  string
	now     func() time.Time
}

func (r runEvents) emit(evt progress.Event) {
	evt.RunID = r.id
	evt.TS = r.now()
	evt.Spider = r.spider
	evt.ItemID = r.itemID
	r.emitter.Emit(evt)
}
