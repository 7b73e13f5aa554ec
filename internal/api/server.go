package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/config"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
	"github.com/JakeFAU/itemrelay/internal/metrics"
	"github.com/JakeFAU/itemrelay/internal/pipeline"
	"github.com/JakeFAU/itemrelay/internal/queue"
)

const (
	maxBodyBytes   = 1 << 20
	readyTimeout   = 2 * time.Second
	requestTimeout = 60 * time.Second
)

var spiderPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// Enqueuer accepts items for asynchronous processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Processor runs an item through the pipeline inline.
type Processor interface {
	Process(ctx context.Context, spider string, it *item.Item) pipeline.Result
}

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Enqueuer  Enqueuer
	Processor Processor
	Store     Pinger
	Logger    *zap.Logger
	Now       func() time.Time
}

// Server wires HTTP handlers to the dispatcher and pipeline.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	metrics.Init()
	s := &Server{deps: deps, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/items/{spider}", func(r chi.Router) {
			r.Post("/", s.submitItem)
			r.Post("/sync", s.processItem)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) submitItem(w http.ResponseWriter, r *http.Request) {
	spider, it, ok := s.decodeItem(w, r)
	if !ok {
		return
	}
	if s.deps.Enqueuer == nil {
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	job := queue.Job{Spider: spider, Item: it, Received: s.deps.Now()}
	if err := s.deps.Enqueuer.Enqueue(r.Context(), job); err != nil {
		status := http.StatusInternalServerError
		msg := "enqueue failed"
		switch {
		case errors.Is(err, queue.ErrClosed):
			status, msg = http.StatusServiceUnavailable, "shutting down"
		case errors.Is(err, context.DeadlineExceeded):
			status, msg = http.StatusServiceUnavailable, "queue full"
		}
		s.logger.Warn("enqueue rejected", zap.String("spider", spider), zap.Error(err))
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) processItem(w http.ResponseWriter, r *http.Request) {
	spider, it, ok := s.decodeItem(w, r)
	if !ok {
		return
	}
	if s.deps.Processor == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline unavailable")
		return
	}
	res := s.deps.Processor.Process(r.Context(), spider, it)
	summary := summarize(res)
	status := http.StatusOK
	if res.Err != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, summary)
}

func (s *Server) decodeItem(w http.ResponseWriter, r *http.Request) (string, *item.Item, bool) {
	spider := chi.URLParam(r, "spider")
	if !spiderPattern.MatchString(spider) {
		writeError(w, http.StatusBadRequest, "invalid spider name")
		return "", nil, false
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "item too large")
			return "", nil, false
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return "", nil, false
	}
	it, err := item.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON object")
		return "", nil, false
	}
	return spider, it, true
}

type outcomeDTO struct {
	Sink       string `json:"sink"`
	Delivered  bool   `json:"delivered"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type resultDTO struct {
	Status      string       `json:"status"`
	ItemID      string       `json:"item_id,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Detail      string       `json:"detail,omitempty"`
	Error       string       `json:"error,omitempty"`
	Compensated bool         `json:"compensated"`
	Outcomes    []outcomeDTO `json:"outcomes"`
}

func summarize(res pipeline.Result) resultDTO {
	out := resultDTO{Compensated: res.Compensated, Outcomes: make([]outcomeDTO, 0, len(res.Outcomes))}
	if res.Item != nil {
		out.ItemID, _ = res.Item.ID()
	}
	switch {
	case res.Err != nil:
		out.Status = "error"
		out.Error = res.Err.Error()
	case res.Discard != nil:
		out.Status = "discarded"
		out.Reason = string(res.Discard.Reason)
		out.Detail = res.Discard.Detail
	case res.Delivered:
		out.Status = "delivered"
	default:
		out.Status = "undelivered"
	}
	for _, o := range res.Outcomes {
		dto := outcomeDTO{Sink: o.Sink, Delivered: o.Delivered, DurationMs: o.Duration.Milliseconds()}
		if o.Err != nil {
			dto.Error = o.Err.Error()
		}
		out.Outcomes = append(out.Outcomes, dto)
	}
	return out
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request id stored by the middleware, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, errors.Wrap(err, "write response")
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, errors.Wrap(err, "hijack connection")
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
