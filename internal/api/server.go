package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rockmelodies/MonitorTask/internal/metrics"
	"github.com/rockmelodies/MonitorTask/internal/monitor"
	"github.com/rockmelodies/MonitorTask/internal/scheduler"
)

const (
	requestTimeout = 30 * time.Second
	enqueueTimeout = 5 * time.Second
)

// Trigger starts manual checks and reports which tasks are busy.
type Trigger interface {
	TriggerCheck(ctx context.Context, taskID int64) (monitor.CheckRequest, error)
	Running() []int64
}

// ReadyFunc reports whether downstream dependencies are usable.
type ReadyFunc func(ctx context.Context) error

// Options configures authentication and readiness.
type Options struct {
	APIKey string
	Ready  ReadyFunc
}

// Server wires HTTP handlers to the scheduler and store.
type Server struct {
	router  chi.Router
	trigger Trigger
	reads   *ReadHandler
	ready   ReadyFunc
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. An empty
// opts.APIKey disables authentication.
func NewServer(reader monitor.Reader, trigger Trigger, clock monitor.Clock, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	s := &Server{
		trigger: trigger,
		reads:   NewReadHandler(reader, clock, logger),
		ready:   opts.Ready,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/checks/running", s.runningChecks)
		r.Get("/changes", s.reads.ListChanges)
		r.Get("/stats", s.reads.Stats)
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.reads.ListTasks)
			r.Route("/{task_id}", func(r chi.Router) {
				r.Get("/", s.reads.GetTask)
				r.Get("/changes", s.reads.ListTaskChanges)
				r.Post("/check", s.triggerCheck)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) runningChecks(w http.ResponseWriter, _ *http.Request) {
	running := s.trigger.Running()
	if running == nil {
		running = []int64{}
	}
	writeData(w, http.StatusOK, map[string]any{"task_ids": running})
}

func (s *Server) triggerCheck(w http.ResponseWriter, r *http.Request) {
	taskID, err := parseTaskID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()

	req, err := s.trigger.TriggerCheck(ctx, taskID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, envelope{
			Success: true,
			Data:    map[string]any{"task_id": req.TaskID, "run_id": req.RunID},
			Message: "check scheduled",
		})
	case errors.Is(err, monitor.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "task check already running")
	case errors.Is(err, scheduler.ErrTaskInactive):
		writeError(w, http.StatusUnprocessableEntity, "task is not active")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "check queue is full")
	default:
		s.logger.Error("trigger check failed", zap.Int64("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to schedule check")
	}
}

// envelope is the response shape for /v1 routes.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}
