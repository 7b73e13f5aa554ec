package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/freshness"
	"github.com/JakeFAU/itemrelay/internal/item"
	"github.com/JakeFAU/itemrelay/internal/normalize"
	"github.com/JakeFAU/itemrelay/internal/store"
	"github.com/JakeFAU/itemrelay/internal/validation"
)

// PreProcessor runs the admission steps in a fixed order: normalize,
// validate, claim, freshness.
type PreProcessor struct {
	Store      store.Store
	Validation *validation.Stage
	Freshness  freshness.Filter
	Logger     *zap.Logger
}

// Process prepares it for delivery. A non-nil Discard means the item must not
// be delivered. A non-nil error means the idempotency store failed and the
// item was neither claimed nor delivered.
//
// The date control fields are removed whatever the outcome. A claim taken in
// this call is kept even when the item is later found stale.
func (p *PreProcessor) Process(ctx context.Context, spider string, it *item.Item) (*Discard, error) {
	normalize.Item(it)

	d, err := p.admit(ctx, spider, it)
	date, _ := it.Pop(item.FieldDate)
	hint, _ := it.Pop(item.FieldDateFormat)
	if d != nil || err != nil {
		return d, err
	}
	return p.checkFreshness(spider, it, date, hint), nil
}

func (p *PreProcessor) admit(ctx context.Context, spider string, it *item.Item) (*Discard, error) {
	if p.Validation != nil {
		if drop, report := p.Validation.Apply(ctx, it); drop {
			return discard(ReasonValidationFailed, "%d validation error(s)", len(report)), nil
		}
	}

	id, ok := it.ID()
	if !ok {
		return nil, nil
	}
	id = normalize.URL(id)
	it.Set(item.FieldID, id)

	seen, err := p.Store.Exists(ctx, id, spider)
	if err != nil {
		return nil, errors.Wrap(err, "check item claim")
	}
	if seen {
		return discard(ReasonDuplicate, "%s already seen for %s", id, spider), nil
	}
	if err := p.Store.Insert(ctx, id, spider); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return discard(ReasonDuplicate, "%s claimed concurrently for %s", id, spider), nil
		}
		return nil, errors.Wrap(err, "claim item")
	}
	return nil, nil
}

func (p *PreProcessor) checkFreshness(spider string, it *item.Item, date, hint string) *Discard {
	if date == "" {
		return nil
	}
	recent, err := p.Freshness.Recent(date, hint)
	if err != nil {
		id, _ := it.ID()
		p.logger().Warn("malformed item date",
			zap.String("spider", spider),
			zap.String("item_id", id),
			zap.String("date", date),
			zap.String("format", hint),
			zap.Error(err),
		)
		return discard(ReasonStale, "malformed date %q", date)
	}
	if !recent {
		return discard(ReasonStale, "%s older than %d day(s)", date, p.Freshness.WindowDays)
	}
	return nil
}

func (p *PreProcessor) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
