package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/config"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/logging"
	"github.com/JakeFAU/itemrelay/internal/metrics"
	"github.com/JakeFAU/itemrelay/internal/server"
)

func newExpireCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Deletes idempotency records older than a number of days",
		Long: `Removes records whose claim is older than --days (or store.expiry_days
when the flag is not set). Removed items may be relayed again if a scraper
produces them later.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				days = cfg.Store.ExpiryDays
			}
			if days <= 0 {
				return errors.Newf("expiry days must be > 0, got %d", days)
			}
			logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
			if err != nil {
				return errors.Wrap(err, "logger init failed")
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush
			metrics.Init()
			return runExpire(cmd, cfg.Store, days, logger)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "delete records older than this many days")
	return cmd
}

func runExpire(cmd *cobra.Command, storeCfg config.StoreConfig, days int, logger *zap.Logger) error {
	ctx := cmd.Context()
	s, err := server.OpenStore(ctx, storeCfg, logger.Named("store"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("store close failed", zap.Error(cerr))
		}
	}()
	n, err := server.SweepExpired(ctx, s, days, logger.Named("store"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d record(s) older than %d day(s)\n", n, days)
	return nil
}
