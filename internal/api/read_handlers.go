package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

const (
	readTimeout  = 3 * time.Second
	recentWindow = 24 * time.Hour
)

// ReadHandler exposes read-only task, change and stats endpoints.
type ReadHandler struct {
	reader  monitor.Reader
	clock   monitor.Clock
	timeout time.Duration
	logger  *zap.Logger
}

// NewReadHandler wires the reader and logger.
func NewReadHandler(reader monitor.Reader, clock monitor.Clock, logger *zap.Logger) *ReadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReadHandler{
		reader:  reader,
		clock:   clock,
		timeout: readTimeout,
		logger:  logger,
	}
}

// ListTasks handles GET /v1/tasks.
func (h *ReadHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tasks, err := h.reader.ListTasks(ctx)
	if err != nil {
		h.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	writeData(w, http.StatusOK, toTaskDTOs(tasks))
}

// GetTask handles GET /v1/tasks/{task_id}: 400 for malformed IDs, 404 for
// unknown tasks.
func (h *ReadHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	task, err := h.reader.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, monitor.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("get task failed", zap.Int64("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	writeData(w, http.StatusOK, toTaskDTO(task))
}

// ListTaskChanges handles GET /v1/tasks/{task_id}/changes?page=&per_page=.
func (h *ReadHandler) ListTaskChanges(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, err := h.reader.GetTask(ctx, taskID); err != nil {
		if errors.Is(err, monitor.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		h.logger.Error("get task failed", zap.Int64("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	h.listChanges(ctx, w, r, taskID)
}

// ListChanges handles GET /v1/changes?page=&per_page= across all tasks.
func (h *ReadHandler) ListChanges(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	h.listChanges(ctx, w, r, 0)
}

func (h *ReadHandler) listChanges(ctx context.Context, w http.ResponseWriter, r *http.Request, taskID int64) {
	q, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.TaskID = taskID
	page, err := h.reader.ListChanges(ctx, q)
	if err != nil {
		h.logger.Error("list changes failed", zap.Int64("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list changes")
		return
	}
	writeData(w, http.StatusOK, page)
}

// Stats handles GET /v1/stats. Recent changes cover the last 24 hours.
func (h *ReadHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.reader.Stats(ctx, h.clock.Now().Add(-recentWindow))
	if err != nil {
		h.logger.Error("stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	writeData(w, http.StatusOK, stats)
}

func parseTaskID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "task_id")
	if raw == "" {
		return 0, errors.New("task_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid task_id")
	}
	return id, nil
}

func parsePage(r *http.Request) (monitor.ChangeQuery, error) {
	q := r.URL.Query()
	var out monitor.ChangeQuery
	if raw := q.Get("page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return monitor.ChangeQuery{}, errors.New("invalid page")
		}
		out.Page = v
	}
	if raw := q.Get("per_page"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return monitor.ChangeQuery{}, errors.New("invalid per_page")
		}
		out.PerPage = v
	}
	return out.Normalize(), nil
}

// taskDTO hides webhook URLs, which carry access tokens.
type taskDTO struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Selector        string     `json:"selector,omitempty"`
	CheckInterval   int        `json:"check_interval"`
	Keywords        []string   `json:"keywords"`
	Tags            []string   `json:"tags"`
	Priority        string     `json:"priority"`
	Active          bool       `json:"is_active"`
	Channels        []string   `json:"notification_channels"`
	LastCheckTime   *time.Time `json:"last_check_time"`
	LastContentHash *string    `json:"last_content_hash"`
}

func toTaskDTOs(in []monitor.Task) []taskDTO {
	out := make([]taskDTO, 0, len(in))
	for _, t := range in {
		out = append(out, toTaskDTO(t))
	}
	return out
}

func toTaskDTO(t monitor.Task) taskDTO {
	dto := taskDTO{
		ID:              t.ID,
		Name:            t.Name,
		URL:             t.URL,
		Selector:        t.Selector,
		CheckInterval:   t.CheckInterval,
		Keywords:        nonNilStrings(t.Keywords),
		Tags:            nonNilStrings(t.Tags),
		Priority:        string(t.Priority),
		Active:          t.Active,
		Channels:        []string{},
		LastCheckTime:   t.LastCheckTime,
		LastContentHash: t.LastContentHash,
	}
	for _, hook := range t.Webhooks {
		dto.Channels = append(dto.Channels, string(hook.Channel))
	}
	return dto
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
