// Package validation checks items against injected schemas and applies the
// drop/annotate policy.
package validation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/item"
)

// DefaultErrorsField is the item key validation errors are written under.
const DefaultErrorsField = item.FieldValidation

// Failure is a single validation error attached to a field path.
type Failure struct {
	Field   string
	Message string
}

// Report is the ordered list of failures for one item.
type Report []Failure

// Empty reports whether the item passed.
func (r Report) Empty() bool { return len(r) == 0 }

// ByField groups messages by field path, preserving message order.
func (r Report) ByField() map[string][]string {
	out := make(map[string][]string, len(r))
	for _, f := range r {
		out[f.Field] = append(out[f.Field], f.Message)
	}
	return out
}

// Validator checks an item. A returned error means the validator itself could
// not run; a failing item is reported through Report.
type Validator interface {
	Validate(ctx context.Context, it *item.Item) (Report, error)
}

// Stage applies a Validator to items.
type Stage struct {
	Validator   Validator
	Drop        bool
	Annotate    bool
	ErrorsField string
	Logger      *zap.Logger

	warnOnce sync.Once
}

// Apply validates it and returns true when the item must be dropped. Errors
// are written to ErrorsField when Annotate is set and the report is non-empty.
func (s *Stage) Apply(ctx context.Context, it *item.Item) (bool, Report) {
	logger := s.logger()
	if s.Validator == nil {
		s.warnOnce.Do(func() {
			logger.Warn("no schema defined, validation disabled")
		})
		return false, nil
	}
	report, err := s.Validator.Validate(ctx, it)
	if err != nil {
		id, _ := it.ID()
		logger.Error("validator failed, passing item", zap.String("item_id", id), zap.Error(err))
		return false, nil
	}
	if report.Empty() {
		return false, report
	}
	if s.Annotate {
		field := s.ErrorsField
		if field == "" {
			field = DefaultErrorsField
		}
		it.Set(field, report.ByField())
	}
	return s.Drop, report
}

func (s *Stage) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
