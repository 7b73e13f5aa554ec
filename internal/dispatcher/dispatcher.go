// Package dispatcher manages worker fan-out over the item queue.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/metrics"
	"github.com/JakeFAU/itemrelay/internal/queue"
	"github.com/JakeFAU/itemrelay/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue          queue.Queue
	workers        []*worker.Worker
	enqueueTimeout time.Duration
}

// New creates a Dispatcher. A positive enqueueTimeout bounds how long Enqueue
// waits for room in a full queue.
func New(q queue.Queue, workers []*worker.Worker, enqueueTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		queue:          q,
		workers:        workers,
		enqueueTimeout: enqueueTimeout,
	}
}

// Run starts all workers and blocks until every worker has returned, which
// happens once the queue is closed and drained or ctx finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job queue.Job) error {
	if d.enqueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.enqueueTimeout)
		defer cancel()
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		metrics.ObserveEnqueue(job.Spider, "rejected")
		return errors.Wrap(err, "queue enqueue")
	}
	metrics.ObserveEnqueue(job.Spider, "accepted")
	return nil
}

// Close stops accepting jobs; Run returns once workers drain the backlog.
func (d *Dispatcher) Close() {
	d.queue.Close()
}
