// Package webhook implements the HTTP POST sinks: the chat webhook
// (discord), stream ingest (synoptic), bot message (telegram) and the generic
// JSON webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
)

const maxErrorBody = 512

// bodyFunc renders the request body for an item.
type bodyFunc func(it *item.Item) ([]byte, error)

// Sink posts a JSON body per item to a fixed endpoint.
type Sink struct {
	name    string
	uri     string
	headers http.Header
	client  *http.Client
	caller  delivery.Caller
	body    bodyFunc
}

func newSink(name, uri string, headers http.Header, deps delivery.Deps, body bodyFunc) (*Sink, error) {
	if _, err := url.ParseRequestURI(uri); err != nil {
		return nil, errors.Wrapf(err, "%s uri", name)
	}
	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Content-Type", "application/json")
	return &Sink{
		name:    name,
		uri:     uri,
		headers: headers,
		client:  client,
		caller:  deps.Caller(name),
		body:    body,
	}, nil
}

// Name implements delivery.Adapter.
func (s *Sink) Name() string { return s.name }

// Deliver implements delivery.Adapter.
func (s *Sink) Deliver(ctx context.Context, it *item.Item) delivery.Outcome {
	return s.caller.Call(ctx, func(ctx context.Context) error {
		body, err := s.body(it)
		if err != nil {
			return err
		}
		return s.post(ctx, body)
	})
}

func (s *Sink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.uri, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header = s.headers.Clone()
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "post")
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.Newf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close implements delivery.Adapter.
func (s *Sink) Close(context.Context) error { return nil }

func payloadBody(exclude []string) bodyFunc {
	return func(it *item.Item) ([]byte, error) {
		return delivery.EncodePayload(it, exclude)
	}
}

// HTTPConfig configures the generic webhook.
type HTTPConfig struct {
	URI     string
	Token   string
	Exclude []string
}

// NewHTTP posts the payload JSON with an authorization header.
func NewHTTP(cfg HTTPConfig, deps delivery.Deps) (*Sink, error) {
	if cfg.URI == "" {
		return nil, errors.Missing("sinks.http.uri")
	}
	if cfg.Token == "" {
		return nil, errors.Missing("sinks.http.token")
	}
	h := http.Header{}
	h.Set("Authorization", cfg.Token)
	return newSink("http", cfg.URI, h, deps, payloadBody(cfg.Exclude))
}

// TelegramConfig configures the bot message sink. ChatID is kept for
// operators and never sent.
type TelegramConfig struct {
	URI     string
	Token   string
	ChatID  string
	Exclude []string
}

// NewTelegram posts the payload JSON with the bot token as authorization.
func NewTelegram(cfg TelegramConfig, deps delivery.Deps) (*Sink, error) {
	if cfg.URI == "" {
		return nil, errors.Missing("sinks.telegram.uri")
	}
	if cfg.Token == "" {
		return nil, errors.Missing("sinks.telegram.token")
	}
	if cfg.ChatID == "" {
		return nil, errors.Missing("sinks.telegram.chat_id")
	}
	h := http.Header{}
	h.Set("Authorization", cfg.Token)
	return newSink("telegram", cfg.URI, h, deps, payloadBody(cfg.Exclude))
}

// SynopticConfig configures the stream ingest sink.
type SynopticConfig struct {
	URI      string
	StreamID string
	APIKey   string
	Exclude  []string
}

// NewSynoptic posts the payload JSON with the x-api-key header; the stream id
// travels as the streamId query parameter.
func NewSynoptic(cfg SynopticConfig, deps delivery.Deps) (*Sink, error) {
	if cfg.URI == "" {
		return nil, errors.Missing("sinks.synoptic.uri")
	}
	if cfg.APIKey == "" {
		return nil, errors.Missing("sinks.synoptic.api_key")
	}
	if cfg.StreamID == "" {
		return nil, errors.Missing("sinks.synoptic.stream_id")
	}
	u, err := url.Parse(cfg.URI)
	if err != nil {
		return nil, errors.Wrap(err, "synoptic uri")
	}
	q := u.Query()
	q.Set("streamId", cfg.StreamID)
	u.RawQuery = q.Encode()
	h := http.Header{}
	h.Set("x-api-key", cfg.APIKey)
	return newSink("synoptic", u.String(), h, deps, payloadBody(cfg.Exclude))
}

// Discord embed settings.
const (
	EmbedTitle = "Alert"
	EmbedColor = 242424
)

// DiscordConfig configures the chat webhook.
type DiscordConfig struct {
	URI     string
	Exclude []string
}

type embed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordMessage struct {
	Embeds []embed `json:"embeds"`
}

// NewDiscord posts a single embed whose description is the payload JSON.
func NewDiscord(cfg DiscordConfig, deps delivery.Deps) (*Sink, error) {
	if cfg.URI == "" {
		return nil, errors.Missing("sinks.discord.uri")
	}
	exclude := cfg.Exclude
	return newSink("discord", cfg.URI, nil, deps, func(it *item.Item) ([]byte, error) {
		payload, err := delivery.EncodePayload(it, exclude)
		if err != nil {
			return nil, err
		}
		msg := discordMessage{Embeds: []embed{{
			Title:       EmbedTitle,
			Description: string(payload),
			Color:       EmbedColor,
		}}}
		body, err := json.Marshal(msg)
		if err != nil {
			return nil, errors.Wrap(err, "encode embed")
		}
		return body, nil
	})
}
