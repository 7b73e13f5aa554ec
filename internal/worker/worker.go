// Package worker runs queued items through the pipeline.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
	"github.com/JakeFAU/itemrelay/internal/metrics"
	"github.com/JakeFAU/itemrelay/internal/pipeline"
	"github.com/JakeFAU/itemrelay/internal/queue"
)

// Processor is the part of pipeline.Pipeline a worker needs.
type Processor interface {
	Process(ctx context.Context, spider string, it *item.Item) pipeline.Result
}

// Worker consumes queue jobs and hands each to the Processor.
type Worker struct {
	id        int
	queue     queue.Queue
	processor Processor
	logger    *zap.Logger
}

// New constructs a Worker.
func New(id int, q queue.Queue, processor Processor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     q,
		processor: processor,
		logger:    logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming jobs until the queue is closed and drained or the
// context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job queue.Job) {
	if job.Item == nil {
		w.logger.Error("job without item", zap.String("spider", job.Spider))
		return
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	res := w.processor.Process(ctx, job.Spider, job.Item)
	id, _ := job.Item.ID()
	fields := []zap.Field{
		zap.String("spider", job.Spider),
		zap.String("item_id", id),
	}
	if !job.Received.IsZero() {
		fields = append(fields, zap.Duration("latency", time.Since(job.Received)))
	}
	switch {
	case res.Err != nil:
		w.logger.Error("item processing failed", append(fields, zap.Error(res.Err))...)
	case res.Discard != nil:
		w.logger.Debug("item discarded", append(fields, zap.String("reason", string(res.Discard.Reason)))...)
	default:
		w.logger.Debug("item processed",
			append(fields, zap.Bool("delivered", res.Delivered), zap.Bool("compensated", res.Compensated))...)
	}
}
