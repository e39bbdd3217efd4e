// Package worker implements the check pipeline and the loop that feeds it
// from the queue.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
	"github.com/rockmelodies/MonitorTask/internal/queue/memory"
)

// Releaser returns a task to idle once its check finishes.
type Releaser interface {
	Release(taskID int64)
}

// CheckRunner executes one check.
type CheckRunner interface {
	Check(ctx context.Context, req monitor.CheckRequest) monitor.CheckOutcome
}

// Worker consumes check requests and runs them one at a time.
type Worker struct {
	queue   monitor.Queue
	checker CheckRunner
	guard   Releaser
	logger  *zap.Logger
}

// New constructs a Worker.
func New(queue monitor.Queue, checker CheckRunner, guard Releaser, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:   queue,
		checker: checker,
		guard:   guard,
		logger:  logger,
	}
}

// Run blocks, consuming requests until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued check", zap.Int64("task_id", req.TaskID), zap.String("run_id", req.RunID))
		w.process(ctx, req)
	}
}

// process runs one check detached from ctx cancellation so shutdown lets it
// finish. Fetch and notify timeouts still bound it.
func (w *Worker) process(ctx context.Context, req monitor.CheckRequest) {
	if w.guard != nil {
		defer w.guard.Release(req.TaskID)
	}
	outcome := w.checker.Check(context.WithoutCancel(ctx), req)
	w.logger.Debug("check finished",
		zap.Int64("task_id", req.TaskID),
		zap.String("run_id", req.RunID),
		zap.String("result", string(outcome.Result)),
	)
}
