package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/itemrelay/internal/errors"
	"github.com/JakeFAU/itemrelay/internal/item"
	"github.com/JakeFAU/itemrelay/internal/metrics"
	"github.com/JakeFAU/itemrelay/internal/pipeline"
	"github.com/JakeFAU/itemrelay/internal/queue"
	"github.com/JakeFAU/itemrelay/internal/queue/memory"
	"github.com/JakeFAU/itemrelay/internal/worker"
)

func init() {
	metrics.Init()
}

type countingProcessor struct {
	n atomic.Int32
}

func (c *countingProcessor) Process(context.Context, string, *item.Item) pipeline.Result {
	c.n.Add(1)
	return pipeline.Result{Delivered: true}
}

// TestDispatcherDrainsOnClose ensures queued items are processed before Run returns.
func TestDispatcherDrainsOnClose(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(16)
	proc := &countingProcessor{}
	workers := []*worker.Worker{
		worker.New(1, q, proc, zap.NewNop()),
		worker.New(2, q, proc, zap.NewNop()),
	}
	dispatch := New(q, workers, time.Second)

	for i := 0; i < 10; i++ {
		if err := dispatch.Enqueue(context.Background(), queue.Job{Spider: "news", Item: item.New()}); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		dispatch.Run(context.Background())
		close(done)
	}()
	dispatch.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after the queue closed")
	}
	if got := proc.n.Load(); got != 10 {
		t.Fatalf("expected 10 processed items, got %d", got)
	}
}

// TestDispatcherStopsOnCancel ensures workers stop when the context ends.
func TestDispatcherStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	dispatch := New(q, []*worker.Worker{worker.New(1, q, &countingProcessor{}, nil)}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	dispatch := New(&errorQueue{err: errors.New("boom")}, nil, 0)

	err := dispatch.Enqueue(context.Background(), queue.Job{Spider: "news"})
	if err == nil || err.Error() != "queue enqueue: boom" {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

// TestDispatcherEnqueueTimesOutWhenFull verifies the enqueue timeout applies.
func TestDispatcherEnqueueTimesOutWhenFull(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	dispatch := New(q, nil, 20*time.Millisecond)
	if err := dispatch.Enqueue(context.Background(), queue.Job{Spider: "news"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	err := dispatch.Enqueue(context.Background(), queue.Job{Spider: "news"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, queue.Job) error { return q.err }

func (q *errorQueue) Dequeue(context.Context) (queue.Job, error) { return queue.Job{}, q.err }

func (q *errorQueue) Close() {}
