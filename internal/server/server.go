// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/api"
	"github.com/JakeFAU/itemrelay/internal/clock/system"
	"github.com/JakeFAU/itemrelay/internal/config"
	"github.com/JakeFAU/itemrelay/internal/delivery"
	"github.com/JakeFAU/itemrelay/internal/delivery/ratelimit"
	"github.com/JakeFAU/itemrelay/internal/delivery/sinks"
	"github.com/JakeFAU/itemrelay/internal/dispatcher"
	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/freshness"
	"github.com/JakeFAU/itemrelay/internal/logging"
	"github.com/JakeFAU/itemrelay/internal/metrics"
	"github.com/JakeFAU/itemrelay/internal/pipeline"
	"github.com/JakeFAU/itemrelay/internal/progress"
	progresssinks "github.com/JakeFAU/itemrelay/internal/progress/sinks"
	queueMemory "github.com/JakeFAU/itemrelay/internal/queue/memory"
	"github.com/JakeFAU/itemrelay/internal/store"
	"github.com/JakeFAU/itemrelay/internal/validation"
	"github.com/JakeFAU/itemrelay/internal/worker"
)

const shutdownTimeout = 15 * time.Second

// Options adjust Build for tests and embedded use.
type Options struct {
	// Logger replaces the logger built from configuration.
	Logger *zap.Logger
	// Registerer receives the progress collectors; defaults to the global
	// Prometheus registry.
	Registerer prometheus.Registerer
}

// App contains the application's dependencies.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	ownsLogger bool
	store      store.Store
	pipeline   *pipeline.Pipeline
	hub        *progress.Hub
	queue      *queueMemory.Queue
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server

	dispatchDone chan struct{}
}

// Build creates the application's dependencies. Every resource acquired
// before a failure is released before Build returns the error.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	app := &App{cfg: cfg, logger: opts.Logger}
	if app.logger == nil {
		app.logger, err = logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, errors.Wrap(err, "logger init failed")
		}
		app.ownsLogger = true
		zap.ReplaceGlobals(app.logger)
	}
	metrics.Init()
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = app.release(closeCtx)
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Int("workers", cfg.Pipeline.Workers),
	)

	app.store, err = OpenStore(ctx, cfg.Store, app.logger.Named("store"))
	if err != nil {
		return nil, err
	}
	if _, err = SweepExpired(ctx, app.store, cfg.Store.ExpiryDays, app.logger.Named("store")); err != nil {
		return nil, errors.Wrap(err, "startup expiry sweep")
	}

	stage, err := setupValidation(cfg.Validation, app.logger.Named("validation"))
	if err != nil {
		return nil, err
	}

	emitter, err := app.setupProgress(ctx, opts.Registerer)
	if err != nil {
		return nil, err
	}

	adapters, err := setupSinks(ctx, cfg, app.logger.Named("delivery"))
	if err != nil {
		return nil, err
	}

	app.pipeline, err = pipeline.New(pipeline.Config{
		Store:      app.store,
		Validation: stage,
		Freshness:  freshness.Filter{WindowDays: cfg.WindowDays(), Clock: system.New()},
		Adapters:   adapters,
		Emitter:    emitter,
		Logger:     app.logger.Named("pipeline"),
	})
	if err != nil {
		if closeErr := delivery.CloseAll(ctx, adapters); closeErr != nil {
			app.logger.Warn("sink close failed", zap.Error(closeErr))
		}
		return nil, errors.Wrap(err, "pipeline init failed")
	}

	app.queue = queueMemory.NewQueue(cfg.Pipeline.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Pipeline.Workers)
	for i := 0; i < cfg.Pipeline.Workers; i++ {
		workers = append(workers, worker.New(i, app.queue, app.pipeline, app.logger.Named("worker")))
	}
	app.dispatch = dispatcher.New(app.queue, workers, cfg.EnqueueTimeout())

	app.apiServer = api.NewServer(api.Deps{
		Enqueuer:  app.dispatch,
		Processor: app.pipeline,
		Store:     app.store,
		Logger:    app.logger.Named("api"),
	}, *cfg)

	app.logger.Info("application ready", zap.Strings("sinks", app.pipeline.Sinks()))
	return app, nil
}

func setupValidation(cfg config.ValidationConfig, logger *zap.Logger) (*validation.Stage, error) {
	stage := &validation.Stage{
		Drop:        cfg.DropInvalid(),
		Annotate:    cfg.AnnotateInvalid(),
		ErrorsField: cfg.ErrorsField,
		Logger:      logger,
	}
	if len(cfg.Schemas) == 0 {
		return stage, nil
	}
	v, err := validation.NewSchemaValidator(cfg.Schemas...)
	if err != nil {
		return nil, errors.Wrap(err, "validation init failed")
	}
	stage.Validator = v
	logger.Info("schema validation enabled",
		zap.Strings("schemas", cfg.Schemas),
		zap.Bool("drop", stage.Drop),
		zap.Bool("annotate", stage.Annotate),
	)
	return stage, nil
}

func setupSinks(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]delivery.Adapter, error) {
	deps := delivery.Deps{
		Logger:     logger,
		HTTPClient: &http.Client{},
		Timeout:    cfg.DeliveryTimeout(),
		Now:        func() time.Time { return time.Now().UTC() },
	}
	if cfg.Delivery.RatePerSecond > 0 {
		deps.Limiter = ratelimit.New(ratelimit.Config{
			RatePerSecond: cfg.Delivery.RatePerSecond,
			Burst:         cfg.Delivery.Burst,
			Observe:       metrics.ObserveRateLimitDelay,
		})
		logger.Info("per-sink rate limit enabled",
			zap.Float64("rate_per_second", cfg.Delivery.RatePerSecond),
			zap.Int("burst", cfg.Delivery.Burst),
		)
	}
	adapters, err := sinks.Registry(cfg.Sinks).Build(ctx, deps)
	if err != nil {
		return nil, errors.Wrap(err, "sink init failed")
	}
	return adapters, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	pcfg := a.cfg.Progress
	if !pcfg.Enabled {
		a.logger.Info("item events disabled")
		return progress.NopEmitter{}, nil
	}
	var sinkList []progress.Sink
	if pcfg.MetricsEnabled {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, errors.Wrap(err, "progress metrics init failed")
		}
		sinkList = append(sinkList, promSink)
	}
	if pcfg.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if len(sinkList) == 0 {
		a.logger.Warn("item events enabled but no sinks configured")
		return progress.NopEmitter{}, nil
	}
	hubCfg := progress.Config{
		BufferSize:     pcfg.BufferSize,
		MaxBatchEvents: pcfg.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(pcfg.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(pcfg.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.hub, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Pipeline returns the item pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Store returns the idempotency store.
func (a *App) Store() store.Store { return a.store }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// StartWorkers launches the dispatcher. Close waits for it to drain.
func (a *App) StartWorkers() {
	if a.dispatchDone != nil {
		return
	}
	a.dispatchDone = make(chan struct{})
	go func() {
		defer close(a.dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Pipeline.Workers))
		// Workers outlive the signal context so queued items drain on shutdown.
		a.dispatch.Run(context.Background())
	}()
}

// Run serves HTTP and processes queued items until SIGINT/SIGTERM or ctx
// ends, then shuts down in order.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.StartWorkers()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(errors.Wrap(err, "http server"), closeErr)
	default:
		return closeErr
	}
}

// Close stops the queue, waits for workers to drain, then closes sinks, the
// progress hub and the store in that order.
func (a *App) Close(ctx context.Context) error {
	err := a.release(ctx)
	a.logger.Info("shutdown complete")
	if a.ownsLogger {
		_ = a.logger.Sync()
	}
	return err
}

func (a *App) release(ctx context.Context) error {
	var errs []error
	if a.dispatch != nil {
		a.dispatch.Close()
		if a.dispatchDone != nil {
			select {
			case <-a.dispatchDone:
			case <-ctx.Done():
				errs = append(errs, errors.Wrap(ctx.Err(), "drain workers"))
			}
		}
	}
	if a.pipeline != nil {
		if err := a.pipeline.Close(ctx); err != nil {
			a.logger.Warn("sink close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
		metrics.ObserveProgressDropped(a.hub.Dropped())
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
