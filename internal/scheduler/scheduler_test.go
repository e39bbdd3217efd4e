package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
	"github.com/rockmelodies/MonitorTask/internal/queue/memory"
)

type fakeTasks struct {
	mu      sync.Mutex
	tasks   map[int64]monitor.Task
	listErr error
}

func newFakeTasks(tasks ...monitor.Task) *fakeTasks {
	f := &fakeTasks{tasks: make(map[int64]monitor.Task)}
	for _, t := range tasks {
		f.tasks[t.ID] = t
	}
	return f
}

func (f *fakeTasks) ListActiveTasks(context.Context) ([]monitor.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []monitor.Task
	for _, t := range f.tasks {
		if t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTasks) GetTask(_ context.Context, id int64) (monitor.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return monitor.Task{}, monitor.ErrTaskNotFound
	}
	return t, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("run-%d", s.n.Add(1)), nil
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, monitor.CheckRequest) error {
	return errors.New("queue full")
}

func (failingQueue) Dequeue(context.Context) (monitor.CheckRequest, error) {
	return monitor.CheckRequest{}, errors.New("empty")
}

type recordingChecker struct {
	mu       sync.Mutex
	requests []monitor.CheckRequest
	guard    *Guard
	heldSeen bool
}

func (c *recordingChecker) Check(_ context.Context, req monitor.CheckRequest) monitor.CheckOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	c.heldSeen = c.guard.IsRunning(req.TaskID)
	return monitor.CheckOutcome{TaskID: req.TaskID, RunID: req.RunID, Result: monitor.CheckUnchanged}
}

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func fixtureTasks() *fakeTasks {
	return newFakeTasks(
		monitor.Task{ID: 1, Name: "never checked", Active: true, CheckInterval: 300},
		monitor.Task{ID: 2, Name: "due", Active: true, CheckInterval: 300, LastCheckTime: ago(301 * time.Second)},
		monitor.Task{ID: 3, Name: "not due", Active: true, CheckInterval: 300, LastCheckTime: ago(299 * time.Second)},
		monitor.Task{ID: 4, Name: "paused", Active: false, CheckInterval: 300},
		monitor.Task{ID: 5, Name: "exactly due", Active: true, CheckInterval: 60, LastCheckTime: ago(60 * time.Second)},
	)
}

func newTestScheduler(tasks TaskSource, q monitor.Queue, checker Checker, guard *Guard) *Scheduler {
	return New(tasks, q, checker, guard, &seqIDs{}, fixedClock{now: now}, Config{}, zap.NewNop())
}

func drain(t *testing.T, q *memory.Queue) []int64 {
	t.Helper()
	var ids []int64
	for q.Len() > 0 {
		req, err := q.Dequeue(context.Background())
		require.NoError(t, err)
		ids = append(ids, req.TaskID)
	}
	return ids
}

func TestGuardAllowsOneHolder(t *testing.T) {
	t.Parallel()
	g := NewGuard()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire(42) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, []int64{42}, g.Running())
	g.Release(42)
	require.False(t, g.IsRunning(42))
	require.True(t, g.TryAcquire(42))
	g.Release(42)
	g.Release(42)
	require.Empty(t, g.Running())
}

func TestScanEnqueuesDueTasks(t *testing.T) {
	t.Parallel()
	q := memory.NewQueue(16)
	s := newTestScheduler(fixtureTasks(), q, nil, nil)

	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.ElementsMatch(t, []int64{1, 2, 5}, drain(t, q))
	require.Equal(t, []int64{1, 2, 5}, s.Running())
}

func TestScanSkipsTasksStillRunning(t *testing.T) {
	t.Parallel()
	q := memory.NewQueue(16)
	s := newTestScheduler(fixtureTasks(), q, nil, nil)

	_, err := s.Scan(context.Background())
	require.NoError(t, err)
	drain(t, q)

	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	s.Guard().Release(2)
	n, err = s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []int64{2}, drain(t, q))
}

func TestScanReleasesGuardWhenEnqueueFails(t *testing.T) {
	t.Parallel()
	s := newTestScheduler(fixtureTasks(), failingQueue{}, nil, nil)

	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, s.Running())
}

func TestScanDefersTasksWhenQueueIsFull(t *testing.T) {
	t.Parallel()
	q := memory.NewQueue(1)
	s := New(fixtureTasks(), q, nil, nil, &seqIDs{}, fixedClock{now: now},
		Config{EnqueueTimeout: 20 * time.Millisecond}, zap.NewNop())

	start := time.Now()
	n, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, 1, n)
	require.Equal(t, []int64{1}, s.Running())
	require.Equal(t, []int64{1}, drain(t, q))

	s.Guard().Release(1)
	n, err = s.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []int64{1}, drain(t, q))
}

func TestScanListError(t *testing.T) {
	t.Parallel()
	tasks := fixtureTasks()
	tasks.listErr = errors.New("db down")
	s := newTestScheduler(tasks, memory.NewQueue(1), nil, nil)

	_, err := s.Scan(context.Background())
	require.ErrorContains(t, err, "db down")
}

func TestTriggerCheck(t *testing.T) {
	t.Parallel()
	q := memory.NewQueue(4)
	s := newTestScheduler(fixtureTasks(), q, nil, nil)
	ctx := context.Background()

	_, err := s.TriggerCheck(ctx, 99)
	require.ErrorIs(t, err, monitor.ErrTaskNotFound)

	_, err = s.TriggerCheck(ctx, 4)
	require.ErrorIs(t, err, ErrTaskInactive)

	req, err := s.TriggerCheck(ctx, 3)
	require.NoError(t, err)
	require.True(t, req.Manual)
	require.Equal(t, int64(3), req.TaskID)
	require.NotEmpty(t, req.RunID)
	require.Equal(t, now, req.Enqueued)

	_, err = s.TriggerCheck(ctx, 3)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Equal(t, []int64{3}, drain(t, q))
}

func TestRunNowChecksInlineAndReleases(t *testing.T) {
	t.Parallel()
	guard := NewGuard()
	checker := &recordingChecker{guard: guard}
	s := newTestScheduler(fixtureTasks(), memory.NewQueue(1), checker, guard)

	outcome, err := s.RunNow(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, monitor.CheckUnchanged, outcome.Result)
	require.Len(t, checker.requests, 1)
	require.True(t, checker.requests[0].Manual)
	require.True(t, checker.heldSeen)
	require.False(t, guard.IsRunning(3))

	require.True(t, guard.TryAcquire(3))
	_, err = s.RunNow(context.Background(), 3)
	require.ErrorIs(t, err, ErrAlreadyRunning)
	require.Len(t, checker.requests, 1)
}

func TestStartRunsPeriodicScans(t *testing.T) {
	t.Parallel()
	q := memory.NewQueue(16)
	s := New(fixtureTasks(), q, nil, nil, &seqIDs{}, fixedClock{now: now}, Config{ScanInterval: time.Second}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx)

	require.Eventually(t, func() bool { return q.Len() == 3 }, 3*time.Second, 20*time.Millisecond)

	stopped := s.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
