// Package scheduler decides when tasks are checked and keeps at most one check
// per task in flight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rockmelodies/MonitorTask/internal/metrics"
	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

const (
	// DefaultScanInterval is how often active tasks are scanned for due checks.
	DefaultScanInterval = 60 * time.Second
	// DefaultEnqueueTimeout bounds how long a scan waits for queue space.
	DefaultEnqueueTimeout = time.Second
)

var (
	// ErrTaskInactive is returned when a manual check targets a paused task.
	ErrTaskInactive = errors.New("task is not active")
	// ErrAlreadyRunning is returned when the task already has a check in flight.
	ErrAlreadyRunning = errors.New("task check already running")
)

// TaskSource lists and loads tasks.
type TaskSource interface {
	ListActiveTasks(ctx context.Context) ([]monitor.Task, error)
	GetTask(ctx context.Context, taskID int64) (monitor.Task, error)
}

// Checker runs one check synchronously.
type Checker interface {
	Check(ctx context.Context, req monitor.CheckRequest) monitor.CheckOutcome
}

// Config controls the scan cadence.
type Config struct {
	ScanInterval time.Duration
	// EnqueueTimeout caps the wait for queue space per scanned task. Once
	// it expires the rest of the scan is skipped until the next tick.
	EnqueueTimeout time.Duration
}

// Scheduler enqueues due tasks on a fixed cadence and handles manual triggers.
type Scheduler struct {
	tasks   TaskSource
	queue   monitor.Queue
	checker Checker
	guard   *Guard
	ids     monitor.IDGenerator
	clock   monitor.Clock
	cfg     Config
	logger  *zap.Logger

	cron    *cron.Cron
	startMu sync.Mutex
	started bool
}

// New constructs a Scheduler. checker is only used by RunNow and may be nil
// when every check goes through the queue.
func New(
	tasks TaskSource,
	queue monitor.Queue,
	checker Checker,
	guard *Guard,
	ids monitor.IDGenerator,
	clock monitor.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = DefaultEnqueueTimeout
	}
	if guard == nil {
		guard = NewGuard()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	cl := newCronLogger(logger)
	return &Scheduler{
		tasks:   tasks,
		queue:   queue,
		checker: checker,
		guard:   guard,
		ids:     ids,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
	}
}

// Guard exposes the running-task guard shared with the workers.
func (s *Scheduler) Guard() *Guard {
	return s.guard
}

// Start registers the periodic scan and starts the cron loop. Scans use ctx
// until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.started {
		return
	}
	s.cron.Schedule(cron.Every(s.cfg.ScanInterval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Scan(ctx); err != nil {
			s.logger.Error("scan failed", zap.Error(err))
		}
	}))
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", zap.Duration("scan_interval", s.cfg.ScanInterval))
}

// Stop halts the cron loop. The returned context is done once a running scan
// has returned.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("scheduler stopped")
	return ctx
}

// Scan enqueues a check for every active task that is due and idle. It
// returns the number of requests enqueued.
func (s *Scheduler) Scan(ctx context.Context) (int, error) {
	tasks, err := s.tasks.ListActiveTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active tasks: %w", err)
	}
	now := s.clock.Now()
	due, enqueued, deferred := 0, 0, 0
	queueFull := false
	for _, task := range tasks {
		if !task.Active || !task.Due(now) {
			continue
		}
		due++
		if queueFull {
			deferred++
			continue
		}
		if !s.guard.TryAcquire(task.ID) {
			s.logger.Debug("check still running; skipping", zap.Int64("task_id", task.ID))
			continue
		}
		enqueueCtx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
		req, err := s.enqueue(enqueueCtx, task.ID, false)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				queueFull = true
				deferred++
				s.logger.Warn("queue full; deferring remaining due tasks", zap.Int64("task_id", task.ID))
				continue
			}
			s.logger.Warn("enqueue check failed", zap.Int64("task_id", task.ID), zap.Error(err))
			continue
		}
		enqueued++
		s.logger.Debug("check enqueued", zap.Int64("task_id", task.ID), zap.String("run_id", req.RunID))
	}
	metrics.SetDueTasks(due)
	s.logger.Info("scan complete",
		zap.Int("active", len(tasks)),
		zap.Int("due", due),
		zap.Int("enqueued", enqueued),
		zap.Int("deferred", deferred),
	)
	return enqueued, nil
}

// TriggerCheck enqueues a manual check for taskID.
func (s *Scheduler) TriggerCheck(ctx context.Context, taskID int64) (monitor.CheckRequest, error) {
	if err := s.acquireManual(ctx, taskID); err != nil {
		return monitor.CheckRequest{}, err
	}
	req, err := s.enqueue(ctx, taskID, true)
	if err != nil {
		return monitor.CheckRequest{}, err
	}
	s.logger.Info("manual check enqueued", zap.Int64("task_id", taskID), zap.String("run_id", req.RunID))
	return req, nil
}

// RunNow performs a manual check inline and returns its outcome.
func (s *Scheduler) RunNow(ctx context.Context, taskID int64) (monitor.CheckOutcome, error) {
	if s.checker == nil {
		return monitor.CheckOutcome{}, errors.New("no checker configured")
	}
	if err := s.acquireManual(ctx, taskID); err != nil {
		return monitor.CheckOutcome{}, err
	}
	defer s.guard.Release(taskID)

	req, err := s.newRequest(taskID, true)
	if err != nil {
		return monitor.CheckOutcome{}, err
	}
	return s.checker.Check(ctx, req), nil
}

// Running lists the tasks with a check in flight.
func (s *Scheduler) Running() []int64 {
	return s.guard.Running()
}

func (s *Scheduler) acquireManual(ctx context.Context, taskID int64) error {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", taskID, err)
	}
	if !task.Active {
		return ErrTaskInactive
	}
	if !s.guard.TryAcquire(taskID) {
		return ErrAlreadyRunning
	}
	return nil
}

// enqueue hands a held task to the worker pool, releasing it on failure.
func (s *Scheduler) enqueue(ctx context.Context, taskID int64, manual bool) (monitor.CheckRequest, error) {
	req, err := s.newRequest(taskID, manual)
	if err != nil {
		s.guard.Release(taskID)
		return monitor.CheckRequest{}, err
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		s.guard.Release(taskID)
		return monitor.CheckRequest{}, fmt.Errorf("enqueue task %d: %w", taskID, err)
	}
	return req, nil
}

func (s *Scheduler) newRequest(taskID int64, manual bool) (monitor.CheckRequest, error) {
	runID, err := s.ids.NewID()
	if err != nil {
		return monitor.CheckRequest{}, fmt.Errorf("generate run id: %w", err)
	}
	return monitor.CheckRequest{
		TaskID:   taskID,
		RunID:    runID,
		Manual:   manual,
		Enqueued: s.clock.Now(),
	}, nil
}
