// Package sinks binds configuration to the sink factories and defines the
// static sink table.
package sinks

import (
	"context"

	"github.com/JakeFAU/itemrelay/internal/config"
	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/delivery/archive"
	"github.com/JakeFAU/itemrelay/internal/delivery/grpcsink"
	"github.com/JakeFAU/itemrelay/internal/delivery/pubsub"
	"github.com/JakeFAU/itemrelay/internal/delivery/webhook"
	"github.com/JakeFAU/itemrelay/internal/delivery/websocket"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/storage"
	"github.com/JakeFAU/itemrelay/internal/storage/gcs"
	"github.com/JakeFAU/itemrelay/internal/storage/local"
	"github.com/JakeFAU/itemrelay/internal/storage/memory"
)

// Sink kinds in registry order.
const (
	KindDiscord   = "discord"
	KindSynoptic  = "synoptic"
	KindTelegram  = "telegram"
	KindGRPC      = "grpc"
	KindWebsocket = "websocket"
	KindHTTP      = "http"
	KindPubSub    = "pubsub"
	KindArchive   = "archive"
)

// Registry returns the sink table for cfg.
func Registry(cfg config.SinksConfig) *delivery.Registry {
	return delivery.NewRegistry(
		delivery.Registration{Kind: KindDiscord, Factory: func(_ context.Context, deps delivery.Deps) (delivery.Adapter, error) {
			return webhook.NewDiscord(webhook.DiscordConfig{URI: cfg.Discord.URI, Exclude: cfg.Discord.Exclude}, deps)
		}},
		delivery.Registration{Kind: KindSynoptic, Factory: func(_ context.Context, deps delivery.Deps) (delivery.Adapter, error) {
			return webhook.NewSynoptic(webhook.SynopticConfig{
				URI:      cfg.Synoptic.URI,
				StreamID: cfg.Synoptic.StreamID,
				APIKey:   cfg.Synoptic.APIKey,
				Exclude:  cfg.Synoptic.Exclude,
			}, deps)
		}},
		delivery.Registration{Kind: KindTelegram, Factory: func(_ context.Context, deps delivery.Deps) (delivery.Adapter, error) {
			return webhook.NewTelegram(webhook.TelegramConfig{
				URI:     cfg.Telegram.URI,
				Token:   cfg.Telegram.Token,
				ChatID:  cfg.Telegram.ChatID,
				Exclude: cfg.Telegram.Exclude,
			}, deps)
		}},
		delivery.Registration{Kind: KindGRPC, Factory: func(_ context.Context, deps delivery.Deps) (delivery.Adapter, error) {
			return grpcsink.New(grpcsink.Config{
				URI:      cfg.GRPC.URI,
				Token:    cfg.GRPC.Token,
				FeedID:   cfg.GRPC.FeedID,
				Package:  cfg.GRPC.Package,
				Insecure: cfg.GRPC.Insecure,
				Workers:  cfg.GRPC.Workers,
				Exclude:  cfg.GRPC.Exclude,
			}, deps)
		}},
		delivery.Registration{Kind: KindWebsocket, Factory: func(ctx context.Context, deps delivery.Deps) (delivery.Adapter, error) {
			return websocket.New(ctx, websocket.Config{URI: cfg.Websocket.URI, Exclude: cfg.Websocket.Exclude}, deps)
		}},
		delivery.Registration{Kind: KindHTTP, Factory: func(_ context.Context, deps delivery.Deps) (delivery.Adapter, error) {
			return webhook.NewHTTP(webhook.HTTPConfig{URI: cfg.HTTP.URI, Token: cfg.HTTP.Token, Exclude: cfg.HTTP.Exclude}, deps)
		}},
		delivery.Registration{Kind: KindPubSub, Factory: func(ctx context.Context, deps delivery.Deps) (delivery.Adapter, error) {
			return pubsub.New(ctx, pubsub.Config{
				ProjectID: cfg.PubSub.ProjectID,
				Topic:     cfg.PubSub.Topic,
				Exclude:   cfg.PubSub.Exclude,
			}, deps)
		}},
		delivery.Registration{Kind: KindArchive, Factory: func(ctx context.Context, deps delivery.Deps) (delivery.Adapter, error) {
			return newArchive(ctx, cfg.Archive, deps)
		}},
	)
}

func newArchive(ctx context.Context, cfg config.ArchiveConfig, deps delivery.Deps) (delivery.Adapter, error) {
	var (
		store  storage.BlobStore
		closer func() error
	)
	switch cfg.Backend {
	case "":
		return nil, errors.Missing("sinks.archive.backend")
	case "gcs":
		if cfg.Bucket == "" {
			return nil, errors.Missing("sinks.archive.bucket")
		}
		gs, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, errors.SinkUnavailable(err, "gcs blob store init")
		}
		store, closer = gs, gs.Close
	case "local":
		if cfg.BaseDir == "" {
			return nil, errors.Missing("sinks.archive.base_dir")
		}
		ls, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, errors.Wrap(err, "local blob store init")
		}
		store = ls
	case "memory":
		store = memory.NewBlobStore()
	default:
		return nil, errors.Newf("unknown archive backend %q", cfg.Backend)
	}
	a, err := archive.New(store, archive.Config{Prefix: cfg.Prefix, Exclude: cfg.Exclude}, deps, closer)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}
	return a, nil
}
