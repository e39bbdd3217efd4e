// Package api hosts the operational HTTP server. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tasks/{task_id}/check to trigger a manual check.
//   - GET /v1/checks/running for the tasks with a check in flight.
//   - GET /v1/tasks, /v1/tasks/{task_id}, /v1/tasks/{task_id}/changes,
//     /v1/changes and /v1/stats for read access to the store.
//
// Responses under /v1 use the envelope {"success", "data", "message"}.
package api
