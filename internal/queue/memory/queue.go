// Package memory provides the in-process bounded queue.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/queue"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch   chan queue.Job
	done chan struct{}

	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan queue.Job, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends or the
// queue closes.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return queue.ErrClosed
	}
	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "enqueue canceled")
	case <-q.done:
		return queue.ErrClosed
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation. It returns
// queue.ErrClosed once the queue is closed and empty.
func (q *Queue) Dequeue(ctx context.Context) (queue.Job, error) {
	select {
	case <-ctx.Done():
		return queue.Job{}, errors.Wrap(ctx.Err(), "dequeue canceled")
	case job, ok := <-q.ch:
		if !ok {
			return queue.Job{}, queue.ErrClosed
		}
		return job, nil
	}
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops new enqueues and closes the channel so workers drain the
// remaining jobs and exit.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.closeMu.Lock()
		defer q.closeMu.Unlock()
		q.closed = true
		close(q.ch)
	})
}
