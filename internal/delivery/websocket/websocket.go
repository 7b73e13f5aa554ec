// Package websocket streams item payloads as text frames over one persistent
// websocket connection.
package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
)

// Name is the sink name reported in outcomes.
const Name = "websocket"

const (
	closeGrace       = time.Second
	reconnectTimeout = 5 * time.Second
)

// Config configures the socket sink.
type Config struct {
	URI     string
	Exclude []string
	Dialer  *websocket.Dialer
}

// Sink owns the connection. Writes are serialized by mu.
type Sink struct {
	cfg    Config
	dialer *websocket.Dialer
	caller delivery.Caller
	logger *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// New dials the endpoint. When the endpoint is unreachable the sink starts
// disconnected and dials again on the next Deliver.
func New(ctx context.Context, cfg Config, deps delivery.Deps) (*Sink, error) {
	if cfg.URI == "" {
		return nil, errors.Missing("sinks.websocket.uri")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sink{cfg: cfg, dialer: dialer, caller: deps.Caller(Name), logger: logger.Named(Name)}
	conn, err := s.dial(ctx)
	if err != nil {
		s.logger.Error("websocket unreachable at startup, will dial on first delivery", zap.Error(err))
		return s, nil
	}
	s.conn = conn
	return s, nil
}

func (s *Sink) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URI, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", s.cfg.URI)
	}
	go discardReads(conn)
	return conn, nil
}

// discardReads keeps control frames (ping, close) flowing until the
// connection dies.
func discardReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// Name implements delivery.Adapter.
func (s *Sink) Name() string { return Name }

// Deliver implements delivery.Adapter. A failed write triggers one reconnect;
// the item itself is reported as failed and not retried.
func (s *Sink) Deliver(ctx context.Context, it *item.Item) delivery.Outcome {
	return s.caller.Call(ctx, func(ctx context.Context) error {
		payload, err := delivery.EncodePayload(it, s.cfg.Exclude)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.conn == nil {
			conn, err := s.dial(ctx)
			if err != nil {
				return err
			}
			s.conn = conn
		}
		if deadline, ok := ctx.Deadline(); ok {
			_ = s.conn.SetWriteDeadline(deadline)
		} else {
			_ = s.conn.SetWriteDeadline(time.Time{})
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.reconnect(ctx, err)
			return errors.Wrap(err, "write frame")
		}
		return nil
	})
}

// reconnect replaces the broken connection. The dial outlives ctx, which may
// be the reason the write failed. Callers hold mu.
func (s *Sink) reconnect(ctx context.Context, cause error) {
	s.logger.Warn("websocket write failed, reconnecting", zap.Error(cause))
	_ = s.conn.Close()
	s.conn = nil
	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reconnectTimeout)
	defer cancel()
	conn, err := s.dial(dialCtx)
	if err != nil {
		s.logger.Error("websocket reconnect failed", zap.Error(err))
		return
	}
	s.conn = conn
}

// Close sends a normal close frame and releases the connection.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	writeErr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	closeErr := s.conn.Close()
	s.conn = nil
	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return errors.Join(errors.Wrap(writeErr, "send close frame"), closeErr)
	}
	if closeErr != nil {
		return errors.Wrap(closeErr, "close websocket")
	}
	return nil
}
