// Package dispatcher manages worker fan-out over the work queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

// Runner is a long-lived consumer such as a worker.Worker.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a fixed pool of workers.
type Dispatcher struct {
	queue          scrape.Queue
	workers        []Runner
	enqueueTimeout time.Duration
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithEnqueueTimeout bounds an enqueue whose context carries no deadline.
// Without it Enqueue waits on a full queue until ctx ends.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.enqueueTimeout = d
	}
}

// New creates a Dispatcher.
func New(queue scrape.Queue, workers []Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:   queue,
		workers: workers,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Workers reports the pool size.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}

// Run starts all workers and blocks until the context finishes and every worker returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue hands the item to the queue. With an enqueue timeout configured, a full
// queue fails after it unless ctx already carries a deadline.
func (d *Dispatcher) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	if _, ok := ctx.Deadline(); !ok && d.enqueueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.enqueueTimeout)
		defer cancel()
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
