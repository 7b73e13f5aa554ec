package cmd

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
	"github.com/JakeFAU/itemrelay/internal/server"
)

const maxLineBytes = 1 << 20

// relayCounts tallies one relay run.
type relayCounts struct {
	read, invalid, delivered, undelivered, discarded, failed atomic.Int64
}

func (c *relayCounts) String() string {
	return fmt.Sprintf("read=%d invalid=%d delivered=%d undelivered=%d discarded=%d failed=%d",
		c.read.Load(), c.invalid.Load(), c.delivered.Load(), c.undelivered.Load(), c.discarded.Load(), c.failed.Load())
}

func newRelayCmd() *cobra.Command {
	var spider string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Relays newline-delimited JSON items from stdin",
		Long: `Reads one JSON object per line from stdin and runs each through the
pipeline synchronously, using up to pipeline.workers items in flight. A
summary line is printed when input ends.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), cfg, server.Options{})
			if err != nil {
				return errors.Wrap(err, "build pipeline")
			}
			counts, runErr := runRelay(cmd.Context(), app, spider, cfg.Pipeline.Workers, cmd.InOrStdin())
			closeErr := app.Close(context.WithoutCancel(cmd.Context()))
			fmt.Fprintln(cmd.OutOrStdout(), counts.String())
			if runErr != nil {
				return runErr
			}
			return closeErr
		},
	}
	cmd.Flags().StringVar(&spider, "spider", "", "spider name the items belong to")
	_ = cmd.MarkFlagRequired("spider")
	return cmd
}

func runRelay(ctx context.Context, app *server.App, spider string, workers int, in io.Reader) (*relayCounts, error) {
	counts := &relayCounts{}
	logger := app.Logger().Named("relay")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		counts.read.Add(1)
		it, err := item.Parse(raw)
		if err != nil {
			counts.invalid.Add(1)
			logger.Warn("skipping invalid line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := app.Pipeline().Process(gctx, spider, it)
			switch {
			case res.Err != nil:
				counts.failed.Add(1)
			case res.Discard != nil:
				counts.discarded.Add(1)
			case res.Delivered:
				counts.delivered.Add(1)
			default:
				counts.undelivered.Add(1)
			}
			return nil
		})
	}
	waitErr := g.Wait()
	if err := scanner.Err(); err != nil {
		return counts, errors.Wrap(err, "read input")
	}
	if waitErr != nil {
		return counts, waitErr
	}
	return counts, ctx.Err()
}
