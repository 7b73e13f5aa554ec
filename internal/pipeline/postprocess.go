package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
	"github.com/JakeFAU/itemrelay/internal/store"
)

// PostProcessor releases the claim of an item that reached no sink so a later
// scrape can retry it.
type PostProcessor struct {
	Store  store.Store
	Logger *zap.Logger
}

// Process consumes the delivered flag. When it is not true and the item has an
// id, the claim is removed. Removal errors are logged and returned for
// counting; the caller must not escalate them.
func (p *PostProcessor) Process(ctx context.Context, spider string, it *item.Item) (bool, error) {
	delivered := it.Delivered()
	it.Delete(item.FieldDelivered)
	if delivered {
		return false, nil
	}
	id, ok := it.ID()
	if !ok {
		return false, nil
	}
	if err := p.Store.Remove(ctx, id, spider); err != nil {
		if p.Logger != nil {
			p.Logger.Error("failed to remove claim after undelivered item",
				zap.String("spider", spider),
				zap.String("item_id", id),
				zap.Error(err),
			)
		}
		return false, errors.Wrap(err, "remove claim")
	}
	return true, nil
}
