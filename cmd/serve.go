package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP ingest server and worker pool",
		Long: `Starts the HTTP API that accepts items on /v1/items/{spider}, the worker
pool that processes queued items, and the health and metrics endpoints. The
process drains queued items on SIGINT or SIGTERM before exiting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg, server.Options{})
			if err != nil {
				return errors.Wrap(err, "build server")
			}
			return app.Run(cmd.Context())
		},
	}
}
