package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

func seededStore() *Store {
	return NewStore(
		monitor.Task{ID: 5, Name: "explicit", Active: true, Keywords: []string{"cve"}},
		monitor.Task{Name: "auto", Active: true},
		monitor.Task{Name: "paused", Active: false},
	)
}

func TestNewStoreAssignsIDs(t *testing.T) {
	t.Parallel()
	s := seededStore()

	all, err := s.ListTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, []int64{5, 6, 7}, []int64{all[0].ID, all[1].ID, all[2].ID})

	active, err := s.ListActiveTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)

	_, err = s.GetTask(context.Background(), 99)
	require.ErrorIs(t, err, monitor.ErrTaskNotFound)
}

func TestGetTaskReturnsCopy(t *testing.T) {
	t.Parallel()
	s := seededStore()

	task, err := s.GetTask(context.Background(), 5)
	require.NoError(t, err)
	task.Keywords[0] = "mutated"

	again, err := s.GetTask(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []string{"cve"}, again.Keywords)
}

func TestWithTxCommits(t *testing.T) {
	t.Parallel()
	s := seededStore()
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	change := &monitor.ChangeEvent{TaskID: 5, ContentHash: "abc", DetectedAt: at}
	err := s.WithTx(ctx, func(tx monitor.Tx) error {
		if err := tx.UpdateTaskCheck(ctx, 5, at, "abc"); err != nil {
			return err
		}
		return tx.InsertChange(ctx, change)
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), change.ID)

	task, err := s.GetTask(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, "abc", *task.LastContentHash)
	require.Equal(t, at, *task.LastCheckTime)

	record := &monitor.NotificationRecord{TaskID: 5, ChangeID: change.ID, Channel: monitor.ChannelWeCom, Status: monitor.NotificationSuccess}
	err = s.WithTx(ctx, func(tx monitor.Tx) error {
		if err := tx.InsertNotification(ctx, record); err != nil {
			return err
		}
		return tx.UpdateChangeNotified(ctx, change.ID, true)
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), record.ID)
	require.Len(t, s.Notifications(5), 1)

	page, err := s.ListChanges(ctx, monitor.ChangeQuery{TaskID: 5})
	require.NoError(t, err)
	require.Len(t, page.Changes, 1)
	require.True(t, page.Changes[0].Notified)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	s := seededStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx monitor.Tx) error {
		require.NoError(t, tx.UpdateTaskCheck(ctx, 5, time.Now(), "abc"))
		require.NoError(t, tx.InsertChange(ctx, &monitor.ChangeEvent{TaskID: 5}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	task, err := s.GetTask(ctx, 5)
	require.NoError(t, err)
	require.Nil(t, task.LastContentHash)
	page, err := s.ListChanges(ctx, monitor.ChangeQuery{})
	require.NoError(t, err)
	require.Zero(t, page.Total)
}

func TestWithTxResetsIDsWhenNotCommitted(t *testing.T) {
	t.Parallel()
	s := seededStore()
	ctx := context.Background()

	change := &monitor.ChangeEvent{TaskID: 5, ContentHash: "abc"}
	record := &monitor.NotificationRecord{TaskID: 5, Channel: monitor.ChannelDingTalk}
	err := s.WithTx(ctx, func(tx monitor.Tx) error {
		require.NoError(t, tx.InsertChange(ctx, change))
		record.ChangeID = change.ID
		require.NoError(t, tx.InsertNotification(ctx, record))
		return errors.New("send failed")
	})
	require.Error(t, err)
	require.Zero(t, change.ID)
	require.Zero(t, record.ID)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	err = s.WithTx(canceled, func(tx monitor.Tx) error {
		return tx.InsertChange(ctx, change)
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, change.ID)

	require.NoError(t, s.WithTx(ctx, func(tx monitor.Tx) error {
		return tx.InsertChange(ctx, change)
	}))
	require.Equal(t, int64(1), change.ID)
}

func TestTxRejectsUnknownRows(t *testing.T) {
	t.Parallel()
	s := seededStore()
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx monitor.Tx) error {
		return tx.UpdateTaskCheck(ctx, 404, time.Now(), "x")
	})
	var storeErr *monitor.StoreError
	require.True(t, errors.As(err, &storeErr))
	require.ErrorIs(t, err, monitor.ErrTaskNotFound)

	err = s.WithTx(ctx, func(tx monitor.Tx) error {
		return tx.InsertNotification(ctx, &monitor.NotificationRecord{TaskID: 5, ChangeID: 77})
	})
	require.Error(t, err)
}

func TestListChangesPagesNewestFirst(t *testing.T) {
	t.Parallel()
	s := seededStore()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		taskID := int64(5)
		if i%2 == 1 {
			taskID = 6
		}
		require.NoError(t, s.WithTx(ctx, func(tx monitor.Tx) error {
			return tx.InsertChange(ctx, &monitor.ChangeEvent{TaskID: taskID, DetectedAt: base.Add(time.Duration(i) * time.Hour)})
		}))
	}

	page, err := s.ListChanges(ctx, monitor.ChangeQuery{Page: 1, PerPage: 2})
	require.NoError(t, err)
	require.Equal(t, 5, page.Total)
	require.Equal(t, 3, page.Pages)
	require.Equal(t, []int64{5, 4}, []int64{page.Changes[0].ID, page.Changes[1].ID})

	last, err := s.ListChanges(ctx, monitor.ChangeQuery{Page: 3, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, last.Changes, 1)

	beyond, err := s.ListChanges(ctx, monitor.ChangeQuery{Page: 9, PerPage: 2})
	require.NoError(t, err)
	require.Empty(t, beyond.Changes)

	forTask, err := s.ListChanges(ctx, monitor.ChangeQuery{TaskID: 6})
	require.NoError(t, err)
	require.Equal(t, 2, forTask.Total)
	require.Equal(t, 20, forTask.PerPage)

	stats, err := s.Stats(ctx, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Equal(t, monitor.Stats{TotalTasks: 3, ActiveTasks: 2, TotalChanges: 5, RecentChanges: 2}, stats)
}
