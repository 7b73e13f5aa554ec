package delivery

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/errors"
)

// Deps are the shared resources handed to every sink factory.
type Deps struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
	Limiter    Waiter
	Timeout    time.Duration
	Now        func() time.Time
}

// Caller returns a Caller for the named sink built from the shared deps.
func (d Deps) Caller(sink string) Caller {
	return Caller{Sink: sink, Timeout: d.Timeout, Limiter: d.Limiter, Logger: d.Logger}
}

// Factory builds one adapter. Returning an error marked
// errors.ErrConfigurationMissing means the sink is not configured.
type Factory func(ctx context.Context, deps Deps) (Adapter, error)

// Registration pairs a sink kind with its factory.
type Registration struct {
	Kind    string
	Factory Factory
}

// Registry holds the static, ordered table of sink factories.
type Registry struct {
	entries []Registration
}

// NewRegistry returns a registry with the given registrations in order.
func NewRegistry(entries ...Registration) *Registry {
	return &Registry{entries: entries}
}

// Register appends a factory.
func (r *Registry) Register(kind string, f Factory) {
	r.entries = append(r.entries, Registration{Kind: kind, Factory: f})
}

// Kinds lists the registered sink kinds in order.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Kind)
	}
	return out
}

// Build instantiates every configured sink. Unconfigured sinks are skipped
// with a warning and unreachable ones with an error log. Any other factory
// error is invalid configuration: the adapters built so far are closed and
// Build aborts.
func (r *Registry) Build(ctx context.Context, deps Deps) ([]Adapter, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var adapters []Adapter
	for _, e := range r.entries {
		a, err := e.Factory(ctx, deps)
		if err != nil {
			if errors.IsConfigurationMissing(err) {
				logger.Warn("sink not configured, skipping", zap.String("sink", e.Kind), zap.Error(err))
				continue
			}
			if errors.IsSinkUnavailable(err) {
				logger.Error("sink unavailable at startup, skipping", zap.String("sink", e.Kind), zap.Error(err))
				continue
			}
			closeErr := CloseAll(ctx, adapters)
			return nil, errors.Join(errors.Wrapf(err, "build sink %s", e.Kind), closeErr)
		}
		logger.Info("sink enabled", zap.String("sink", a.Name()))
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// CloseAll closes every adapter and joins the errors.
func CloseAll(ctx context.Context, adapters []Adapter) error {
	var errs []error
	for _, a := range adapters {
		if err := a.Close(ctx); err != nil {
			errs = append(errs, errors.Wrapf(err, "close sink %s", a.Name()))
		}
	}
	return errors.Join(errs...)
}
