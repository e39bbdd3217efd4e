package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

// pgTx implements monitor.Tx on an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
	// assigned points at caller-owned IDs returned inside this transaction.
	assigned []*int64
}

// discardIDs zeroes IDs whose rows were rolled back.
func (t *pgTx) discardIDs() {
	for _, id := range t.assigned {
		*id = 0
	}
}

func (t *pgTx) UpdateTaskCheck(ctx context.Context, taskID int64, checkedAt time.Time, contentHash string) error {
	tag, err := t.tx.Exec(ctx, `
UPDATE monitor_tasks
SET last_check_time = $1, last_content_hash = $2, updated_at = $1
WHERE id = $3`, checkedAt, contentHash, taskID)
	if err != nil {
		return &monitor.StoreError{Op: "update task check", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &monitor.StoreError{Op: "update task check", Err: monitor.ErrTaskNotFound}
	}
	return nil
}

func (t *pgTx) InsertChange(ctx context.Context, change *monitor.ChangeEvent) error {
	err := t.tx.QueryRow(ctx, `
INSERT INTO content_changes (
	task_id, content_hash, change_summary, change_detail, matched_keywords,
	snapshot_uri, is_notified, detected_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		change.TaskID,
		change.ContentHash,
		change.Summary,
		change.Detail,
		stringsOrEmpty(change.MatchedKeywords),
		change.SnapshotURI,
		change.Notified,
		change.DetectedAt,
	).Scan(&change.ID)
	if err != nil {
		return &monitor.StoreError{Op: "insert change", Err: err}
	}
	t.assigned = append(t.assigned, &change.ID)
	return nil
}

func (t *pgTx) UpdateChangeNotified(ctx context.Context, changeID int64, notified bool) error {
	tag, err := t.tx.Exec(ctx, `UPDATE content_changes SET is_notified = $1 WHERE id = $2`, notified, changeID)
	if err != nil {
		return &monitor.StoreError{Op: "update change notified", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &monitor.StoreError{Op: "update change notified", Err: pgx.ErrNoRows}
	}
	return nil
}

func (t *pgTx) InsertNotification(ctx context.Context, record *monitor.NotificationRecord) error {
	err := t.tx.QueryRow(ctx, `
INSERT INTO notification_logs (task_id, change_id, notification_type, status, error_message, sent_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
		record.TaskID,
		record.ChangeID,
		string(record.Channel),
		string(record.Status),
		record.ErrorMessage,
		record.SentAt,
	).Scan(&record.ID)
	if err != nil {
		return &monitor.StoreError{Op: "insert notification", Err: err}
	}
	t.assigned = append(t.assigned, &record.ID)
	return nil
}
