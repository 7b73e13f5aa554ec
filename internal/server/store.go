package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/config"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/metrics"
	"github.com/JakeFAU/itemrelay/internal/store"
	"github.com/JakeFAU/itemrelay/internal/store/memory"
	"github.com/JakeFAU/itemrelay/internal/store/postgres"
	"github.com/JakeFAU/itemrelay/internal/store/sqlite"
)

// OpenStore connects the configured idempotency backend and verifies it
// answers. A failure here is fatal for the run.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Backend {
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.DSN,
			Table:           cfg.Table,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime(),
		})
		if err != nil {
			return nil, errors.Wrap(err, "open postgres store")
		}
		logger.Info("using postgres idempotency store", zap.String("table", cfg.Table))
		return s, nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.Path, cfg.Table, logger.Named("sqlite"))
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite store")
		}
		logger.Info("using sqlite idempotency store", zap.String("path", cfg.Path))
		return s, nil
	case "memory":
		logger.Warn("using in-memory idempotency store, claims do not survive restarts")
		return memory.New(), nil
	default:
		return nil, errors.Newf("unknown store backend %q", cfg.Backend)
	}
}

// SweepExpired removes records older than expiryDays and logs the count. It is
// a no-op when expiryDays is zero.
func SweepExpired(ctx context.Context, s store.Store, expiryDays int, logger *zap.Logger) (int64, error) {
	if expiryDays <= 0 {
		return 0, nil
	}
	n, err := store.Sweep(ctx, s, expiryDays)
	if err != nil {
		return 0, err
	}
	metrics.ObserveExpired(n)
	logger.Info("expired idempotency records", zap.Int64("deleted", n), zap.Int("expiry_days", expiryDays))
	return n, nil
}
