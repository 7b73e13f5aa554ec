// Package cmd defines and implements the CLI commands for the itemrelay executable.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/itemrelay/internal/config"
	"github.com/JakeFAU/itemrelay/internal/errors"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const configKey configKeyType = "config"

// loadConfig is a variable so tests can inject configuration without files.
var loadConfig = config.Load

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "itemrelay",
		Short: "Deduplicates scraped items and relays them to delivery sinks.",
		Long: `itemrelay accepts items produced by scrapers, drops duplicates, invalid
and stale items, and fans the rest out to every configured sink. Items that
reach no sink are released so a later scrape can retry them.`,
		SilenceUsage: true,

		// Runs before every subcommand so each one sees a validated Config.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cfgFile)
			if err != nil {
				return errors.Wrap(err, "load config")
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables use the ITEMRELAY_ prefix)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRelayCmd())
	cmd.AddCommand(newExpireCmd())

	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
