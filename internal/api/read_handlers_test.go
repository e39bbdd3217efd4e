package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

func seedChanges(t *testing.T, env *testEnv, taskID int64, n int, start time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		change := &monitor.ChangeEvent{
			TaskID:      taskID,
			ContentHash: "h",
			Summary:     "change",
			DetectedAt:  start.Add(time.Duration(i) * time.Hour),
		}
		err := env.store.WithTx(context.Background(), func(tx monitor.Tx) error {
			return tx.InsertChange(context.Background(), change)
		})
		require.NoError(t, err)
	}
}

func TestListTasksHidesWebhookURLs(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec, body := env.do(t, http.MethodGet, "/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, body.Success)
	require.NotContains(t, rec.Body.String(), "access_token")

	tasks := body.Data.([]any)
	require.Len(t, tasks, 2)
	first := tasks[0].(map[string]any)
	require.Equal(t, "Page A", first["name"])
	require.Equal(t, []any{"dingtalk"}, first["notification_channels"])
	require.Equal(t, "abc", first["last_content_hash"])
}

func TestGetTask(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})

	rec, body := env.do(t, http.MethodGet, "/v1/tasks/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	task := body.Data.(map[string]any)
	require.Equal(t, false, task["is_active"])
	require.Nil(t, task["last_content_hash"])

	rec, body = env.do(t, http.MethodGet, "/v1/tasks/42", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "task not found", body.Message)

	rec, _ = env.do(t, http.MethodGet, "/v1/tasks/-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListTaskChangesPaginates(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	seedChanges(t, env, 1, 5, testNow.Add(-48*time.Hour))
	seedChanges(t, env, 2, 1, testNow.Add(-time.Hour))

	rec, _ := env.do(t, http.MethodGet, "/v1/tasks/1/changes?page=2&per_page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    monitor.ChangePage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, 5, resp.Data.Total)
	require.Equal(t, 3, resp.Data.Pages)
	require.Equal(t, 2, resp.Data.Page)
	require.Len(t, resp.Data.Changes, 2)
	for _, c := range resp.Data.Changes {
		require.Equal(t, int64(1), c.TaskID)
	}

	rec, _ = env.do(t, http.MethodGet, "/v1/tasks/99/changes", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/v1/tasks/1/changes?per_page=zero", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAllChangesCapsPerPage(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	seedChanges(t, env, 1, 3, testNow.Add(-time.Hour))

	rec, _ := env.do(t, http.MethodGet, "/v1/changes?per_page=500", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data monitor.ChangePage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 100, resp.Data.PerPage)
	require.Equal(t, 3, resp.Data.Total)
}

func TestStatsCountsRecentChanges(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, Options{})
	seedChanges(t, env, 1, 2, testNow.Add(-72*time.Hour))
	seedChanges(t, env, 1, 3, testNow.Add(-3*time.Hour))

	rec, _ := env.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data monitor.Stats `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, monitor.Stats{
		TotalTasks:    2,
		ActiveTasks:   1,
		TotalChanges:  5,
		RecentChanges: 3,
	}, resp.Data)
}
