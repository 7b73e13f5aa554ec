// Package queue defines the bounded work queue between the ingest API and
// the pipeline workers.
package queue

import (
	"context"
	"time"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
)

// ErrClosed is returned once the queue stops accepting or yielding work.
var ErrClosed = errors.New("queue closed")

// Job is one item waiting for a worker.
type Job struct {
	Spider   string
	Item     *item.Item
	Received time.Time
}

// Queue is a FIFO of jobs. Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue adds job, blocking while the queue is full until ctx ends.
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available, ctx ends, or the queue is
	// closed and drained.
	Dequeue(ctx context.Context) (Job, error)
	// Close stops accepting new jobs. Jobs already queued are still handed
	// out by Dequeue.
	Close()
}
