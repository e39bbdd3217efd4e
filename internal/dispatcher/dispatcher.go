// Package dispatcher manages worker fan-out over the check queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
	"github.com/rockmelodies/MonitorTask/internal/worker"
)

// Dispatcher fans out queued checks to a pool of workers.
type Dispatcher struct {
	queue   monitor.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue monitor.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Size reports the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run starts all workers and blocks until the context finishes and every
// in-flight check returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, req monitor.CheckRequest) error {
	if err := d.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Dequeue proxies to the underlying queue.
func (d *Dispatcher) Dequeue(ctx context.Context) (monitor.CheckRequest, error) {
	req, err := d.queue.Dequeue(ctx)
	if err != nil {
		return monitor.CheckRequest{}, fmt.Errorf("queue dequeue: %w", err)
	}
	return req, nil
}
