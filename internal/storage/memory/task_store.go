package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

// Store is an in-memory monitor.Store for development and tests.
type Store struct {
	mu            sync.RWMutex
	tasks         map[int64]monitor.Task
	changes       []monitor.ChangeEvent
	notifications []monitor.NotificationRecord
	nextTaskID    int64
	nextChangeID  int64
	nextNotifyID  int64
	// assigned points at caller-owned IDs handed out by this tx.
	assigned []*int64
}

var (
	_ monitor.Store  = (*Store)(nil)
	_ monitor.Reader = (*Store)(nil)
)

// NewStore seeds a Store. Tasks without an ID are numbered after the highest
// explicit ID.
func NewStore(tasks ...monitor.Task) *Store {
	s := &Store{tasks: make(map[int64]monitor.Task)}
	for _, t := range tasks {
		if t.ID > s.nextTaskID {
			s.nextTaskID = t.ID
		}
	}
	for _, t := range tasks {
		if t.ID == 0 {
			s.nextTaskID++
			t.ID = s.nextTaskID
		}
		s.tasks[t.ID] = cloneTask(t)
	}
	return s
}

// ListActiveTasks returns active tasks ordered by ID.
func (s *Store) ListActiveTasks(_ context.Context) ([]monitor.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedTasks(true), nil
}

// ListTasks returns every task ordered by ID.
func (s *Store) ListTasks(_ context.Context) ([]monitor.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedTasks(false), nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(_ context.Context, taskID int64) (monitor.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return monitor.Task{}, monitor.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// ListChanges pages through changes, newest first.
func (s *Store) ListChanges(_ context.Context, q monitor.ChangeQuery) (monitor.ChangePage, error) {
	q = q.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []monitor.ChangeEvent
	for i := len(s.changes) - 1; i >= 0; i-- {
		if q.TaskID == 0 || s.changes[i].TaskID == q.TaskID {
			matched = append(matched, s.changes[i])
		}
	}
	total := len(matched)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.PerPage
	if end > total {
		end = total
	}
	page := make([]monitor.ChangeEvent, 0, end-start)
	for _, c := range matched[start:end] {
		page = append(page, cloneChange(c))
	}
	return monitor.NewChangePage(q, page, total), nil
}

// Stats returns dashboard counters.
func (s *Store) Stats(_ context.Context, since time.Time) (monitor.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := monitor.Stats{
		TotalTasks:         len(s.tasks),
		TotalChanges:       len(s.changes),
		TotalNotifications: len(s.notifications),
	}
	for _, t := range s.tasks {
		if t.Active {
			stats.ActiveTasks++
		}
	}
	for _, c := range s.changes {
		if !c.DetectedAt.Before(since) {
			stats.RecentChanges++
		}
	}
	return stats, nil
}

// Notifications returns the delivery log for a task, oldest first.
func (s *Store) Notifications(taskID int64) []monitor.NotificationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []monitor.NotificationRecord
	for _, n := range s.notifications {
		if n.TaskID == taskID {
			out = append(out, n)
		}
	}
	return out
}

// WithTx stages writes and applies them only if fn succeeds. The store is
// locked for the duration of fn, so fn must not call other Store methods.
func (s *Store) WithTx(ctx context.Context, fn func(tx monitor.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:        s,
		checks:       make(map[int64]taskCheck),
		notified:     make(map[int64]bool),
		nextChangeID: s.nextChangeID,
		nextNotifyID: s.nextNotifyID,
	}
	committed := false
	defer func() {
		if !committed {
			tx.discardIDs()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	tx.commit()
	committed = true
	return nil
}

func (s *Store) sortedTasks(activeOnly bool) []monitor.Task {
	out := make([]monitor.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type taskCheck struct {
	at   time.Time
	hash string
}

// memTx accumulates writes until commit. Callers hold store.mu.
type memTx struct {
	store         *Store
	checks        map[int64]taskCheck
	changes       []monitor.ChangeEvent
	notified      map[int64]bool
	notifications []monitor.NotificationRecord
	nextChangeID  int64
	nextNotifyID  int64
	// assigned points at caller-owned IDs handed out by this tx.
	assigned []*int64
}

func (tx *memTx) UpdateTaskCheck(_ context.Context, taskID int64, checkedAt time.Time, contentHash string) error {
	if _, ok := tx.store.tasks[taskID]; !ok {
		return &monitor.StoreError{Op: "update task check", Err: monitor.ErrTaskNotFound}
	}
	tx.checks[taskID] = taskCheck{at: checkedAt, hash: contentHash}
	return nil
}

func (tx *memTx) InsertChange(_ context.Context, change *monitor.ChangeEvent) error {
	if _, ok := tx.store.tasks[change.TaskID]; !ok {
		return &monitor.StoreError{Op: "insert change", Err: monitor.ErrTaskNotFound}
	}
	tx.nextChangeID++
	change.ID = tx.nextChangeID
	tx.assigned = append(tx.assigned, &change.ID)
	tx.changes = append(tx.changes, cloneChange(*change))
	return nil
}

func (tx *memTx) UpdateChangeNotified(_ context.Context, changeID int64, notified bool) error {
	if !tx.changeExists(changeID) {
		return &monitor.StoreError{Op: "update change notified", Err: fmt.Errorf("change %d not found", changeID)}
	}
	tx.notified[changeID] = notified
	return nil
}

func (tx *memTx) InsertNotification(_ context.Context, record *monitor.NotificationRecord) error {
	if !tx.changeExists(record.ChangeID) {
		return &monitor.StoreError{Op: "insert notification", Err: fmt.Errorf("change %d not found", record.ChangeID)}
	}
	tx.nextNotifyID++
	record.ID = tx.nextNotifyID
	tx.assigned = append(tx.assigned, &record.ID)
	tx.notifications = append(tx.notifications, *record)
	return nil
}

func (tx *memTx) changeExists(changeID int64) bool {
	for _, c := range tx.changes {
		if c.ID == changeID {
			return true
		}
	}
	for _, c := range tx.store.changes {
		if c.ID == changeID {
			return true
		}
	}
	return false
}

// discardIDs zeroes IDs handed to callers by a tx that did not commit.
func (tx *memTx) discardIDs() {
	for _, id := range tx.assigned {
		*id = 0
	}
}

func (tx *memTx) commit() {
	s := tx.store
	for id, check := range tx.checks {
		t := s.tasks[id]
		at, hash := check.at, check.hash
		t.LastCheckTime = &at
		t.LastContentHash = &hash
		s.tasks[id] = t
	}
	s.changes = append(s.changes, tx.changes...)
	for id, notified := range tx.notified {
		for i := range s.changes {
			if s.changes[i].ID == id {
				s.changes[i].Notified = notified
			}
		}
	}
	s.notifications = append(s.notifications, tx.notifications...)
	s.nextChangeID = tx.nextChangeID
	s.nextNotifyID = tx.nextNotifyID
}

func cloneTask(t monitor.Task) monitor.Task {
	t.Keywords = append([]string(nil), t.Keywords...)
	t.Tags = append([]string(nil), t.Tags...)
	t.Webhooks = append([]monitor.Webhook(nil), t.Webhooks...)
	if t.LastCheckTime != nil {
		at := *t.LastCheckTime
		t.LastCheckTime = &at
	}
	if t.LastContentHash != nil {
		hash := *t.LastContentHash
		t.LastContentHash = &hash
	}
	return t
}

func cloneChange(c monitor.ChangeEvent) monitor.ChangeEvent {
	c.MatchedKeywords = append([]string(nil), c.MatchedKeywords...)
	return c
}
