// Package postgres provides the Postgres-backed task, change and
// notification store.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

//go:embed schema.sql
var schemaSQL string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// dbPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store persists tasks, changes and notification logs in Postgres.
type Store struct {
	pool dbPool
}

var (
	_ monitor.Store  = (*Store)(nil)
	_ monitor.Reader = (*Store)(nil)
)

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool wraps an existing pool (primarily for testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &monitor.StoreError{Op: "ping", Err: err}
	}
	return nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return &monitor.StoreError{Op: "migrate", Err: err}
	}
	return nil
}

const taskColumns = `id, name, url, selector, check_interval, keywords, tags, priority,
	is_active, webhooks, last_check_time, last_content_hash`

// UpsertTask inserts a task definition or updates it in place. Tasks with an
// ID are matched on it; tasks without one are matched on (name, url), so
// reseeding the same definition reuses its row. Check bookkeeping columns
// are left untouched on update.
func (s *Store) UpsertTask(ctx context.Context, task monitor.Task) (int64, error) {
	hooks, err := json.Marshal(webhooksOrEmpty(task.Webhooks))
	if err != nil {
		return 0, fmt.Errorf("marshal webhooks: %w", err)
	}
	args := []any{
		task.Name,
		task.URL,
		task.Selector,
		task.CheckInterval,
		stringsOrEmpty(task.Keywords),
		stringsOrEmpty(task.Tags),
		string(task.Priority),
		task.Active,
		hooks,
	}
	var id int64
	if task.ID == 0 {
		err = s.pool.QueryRow(ctx, upsertTaskByNaturalKey, args...).Scan(&id)
		if err != nil {
			return 0, &monitor.StoreError{Op: "upsert task", Err: err}
		}
		return id, nil
	}

	err = s.pool.QueryRow(ctx, upsertTaskByID, append([]any{task.ID}, args...)...).Scan(&id)
	if err != nil {
		return 0, &monitor.StoreError{Op: "upsert task", Err: err}
	}
	// Explicit IDs bypass the sequence; move it past them.
	_, err = s.pool.Exec(ctx,
		`SELECT setval('monitor_tasks_id_seq', GREATEST((SELECT max(id) FROM monitor_tasks), 1))`)
	if err != nil {
		return 0, &monitor.StoreError{Op: "advance task sequence", Err: err}
	}
	return id, nil
}

const upsertTaskByNaturalKey = `
INSERT INTO monitor_tasks (name, url, selector, check_interval, keywords, tags, priority, is_active, webhooks)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (name, url) DO UPDATE SET
	selector = EXCLUDED.selector,
	check_interval = EXCLUDED.check_interval,
	keywords = EXCLUDED.keywords,
	tags = EXCLUDED.tags,
	priority = EXCLUDED.priority,
	is_active = EXCLUDED.is_active,
	webhooks = EXCLUDED.webhooks,
	updated_at = now()
RETURNING id`

const upsertTaskByID = `
INSERT INTO monitor_tasks (id, name, url, selector, check_interval, keywords, tags, priority, is_active, webhooks)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	url = EXCLUDED.url,
	selector = EXCLUDED.selector,
	check_interval = EXCLUDED.check_interval,
	keywords = EXCLUDED.keywords,
	tags = EXCLUDED.tags,
	priority = EXCLUDED.priority,
	is_active = EXCLUDED.is_active,
	webhooks = EXCLUDED.webhooks,
	updated_at = now()
RETURNING id`

// ListActiveTasks returns active tasks ordered by ID.
func (s *Store) ListActiveTasks(ctx context.Context) ([]monitor.Task, error) {
	return s.listTasks(ctx, "list active tasks",
		`SELECT `+taskColumns+` FROM monitor_tasks WHERE is_active ORDER BY id`)
}

// ListTasks returns every task ordered by ID.
func (s *Store) ListTasks(ctx context.Context) ([]monitor.Task, error) {
	return s.listTasks(ctx, "list tasks", `SELECT `+taskColumns+` FROM monitor_tasks ORDER BY id`)
}

func (s *Store) listTasks(ctx context.Context, op, query string) ([]monitor.Task, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, &monitor.StoreError{Op: op, Err: err}
	}
	defer rows.Close()

	var tasks []monitor.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, &monitor.StoreError{Op: op, Err: err}
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, &monitor.StoreError{Op: op, Err: err}
	}
	return tasks, nil
}

// GetTask fetches a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID int64) (monitor.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM monitor_tasks WHERE id = $1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return monitor.Task{}, monitor.ErrTaskNotFound
	}
	if err != nil {
		return monitor.Task{}, &monitor.StoreError{Op: "get task", Err: err}
	}
	return task, nil
}

// ListChanges pages through changes, newest first. TaskID 0 spans all tasks.
func (s *Store) ListChanges(ctx context.Context, q monitor.ChangeQuery) (monitor.ChangePage, error) {
	q = q.Normalize()

	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM content_changes WHERE ($1::bigint = 0 OR task_id = $1)`, q.TaskID,
	).Scan(&total)
	if err != nil {
		return monitor.ChangePage{}, &monitor.StoreError{Op: "count changes", Err: err}
	}

	rows, err := s.pool.Query(ctx, `
SELECT id, task_id, content_hash, change_summary, change_detail, matched_keywords,
	snapshot_uri, is_notified, detected_at
FROM content_changes
WHERE ($1::bigint = 0 OR task_id = $1)
ORDER BY detected_at DESC, id DESC
LIMIT $2 OFFSET $3`, q.TaskID, q.PerPage, q.Offset())
	if err != nil {
		return monitor.ChangePage{}, &monitor.StoreError{Op: "list changes", Err: err}
	}
	defer rows.Close()

	var changes []monitor.ChangeEvent
	for rows.Next() {
		var c monitor.ChangeEvent
		err := rows.Scan(
			&c.ID,
			&c.TaskID,
			&c.ContentHash,
			&c.Summary,
			&c.Detail,
			&c.MatchedKeywords,
			&c.SnapshotURI,
			&c.Notified,
			&c.DetectedAt,
		)
		if err != nil {
			return monitor.ChangePage{}, &monitor.StoreError{Op: "list changes", Err: err}
		}
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return monitor.ChangePage{}, &monitor.StoreError{Op: "list changes", Err: err}
	}
	return monitor.NewChangePage(q, changes, int(total)), nil
}

// Stats returns dashboard counters.
func (s *Store) Stats(ctx context.Context, since time.Time) (monitor.Stats, error) {
	const query = `
SELECT
	(SELECT count(*) FROM monitor_tasks),
	(SELECT count(*) FROM monitor_tasks WHERE is_active),
	(SELECT count(*) FROM content_changes),
	(SELECT count(*) FROM content_changes WHERE detected_at >= $1),
	(SELECT count(*) FROM notification_logs)`
	var tasks, active, changes, recent, notifications int64
	if err := s.pool.QueryRow(ctx, query, since).Scan(&tasks, &active, &changes, &recent, &notifications); err != nil {
		return monitor.Stats{}, &monitor.StoreError{Op: "stats", Err: err}
	}
	return monitor.Stats{
		TotalTasks:         int(tasks),
		ActiveTasks:        int(active),
		TotalChanges:       int(changes),
		RecentChanges:      int(recent),
		TotalNotifications: int(notifications),
	}, nil
}

// WithTx runs fn in a single transaction, committing only if fn succeeds.
// The transaction is rolled back on error or panic, and IDs assigned inside
// it are reset.
func (s *Store) WithTx(ctx context.Context, fn func(tx monitor.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return &monitor.StoreError{Op: "begin", Err: err}
	}
	ptx := &pgTx{tx: tx}
	committed := false
	defer func() {
		if committed {
			return
		}
		ptx.discardIDs()
		rbErr := tx.Rollback(context.WithoutCancel(ctx))
		if rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) && err != nil {
			err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
	}()
	if err = fn(ptx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return &monitor.StoreError{Op: "commit", Err: err}
	}
	committed = true
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (monitor.Task, error) {
	var (
		task      monitor.Task
		priority  string
		hooks     []byte
		lastCheck *time.Time
		lastHash  *string
	)
	err := row.Scan(
		&task.ID,
		&task.Name,
		&task.URL,
		&task.Selector,
		&task.CheckInterval,
		&task.Keywords,
		&task.Tags,
		&priority,
		&task.Active,
		&hooks,
		&lastCheck,
		&lastHash,
	)
	if err != nil {
		return monitor.Task{}, err
	}
	task.Priority = monitor.Priority(priority)
	task.LastCheckTime = lastCheck
	task.LastContentHash = lastHash
	if len(hooks) > 0 {
		if err := json.Unmarshal(hooks, &task.Webhooks); err != nil {
			return monitor.Task{}, fmt.Errorf("decode webhooks for task %d: %w", task.ID, err)
		}
	}
	return task, nil
}

func webhooksOrEmpty(h []monitor.Webhook) []monitor.Webhook {
	if h == nil {
		return []monitor.Webhook{}
	}
	return h
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
