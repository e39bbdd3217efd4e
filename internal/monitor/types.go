// Package monitor defines the core types shared by the polling pipeline.
package monitor

import (
	"time"
)

// Priority controls how loudly a change is announced.
type Priority string

// Task priorities understood by the notifier.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Channel names a chat-webhook wire format.
type Channel string

// Supported webhook channels.
const (
	ChannelDingTalk Channel = "dingtalk"
	ChannelWeCom    Channel = "wecom"
)

// NotificationStatus is the outcome persisted for one delivery attempt.
type NotificationStatus string

// Delivery outcomes stored in notification_logs.status.
const (
	NotificationSuccess NotificationStatus = "success"
	NotificationFailed  NotificationStatus = "failed"
)

// Webhook is one alert destination attached to a task.
type Webhook struct {
	Channel Channel `json:"channel" mapstructure:"channel"`
	URL     string  `json:"url" mapstructure:"url"`
}

// Task is a monitored page. The store owns it; the pipeline only updates
// LastCheckTime and LastContentHash.
type Task struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Selector        string     `json:"selector,omitempty"`
	CheckInterval   int        `json:"check_interval"`
	Keywords        []string   `json:"keywords,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	Priority        Priority   `json:"priority"`
	Active          bool       `json:"is_active"`
	Webhooks        []Webhook  `json:"webhooks,omitempty"`
	LastCheckTime   *time.Time `json:"last_check_time,omitempty"`
	LastContentHash *string    `json:"last_content_hash,omitempty"`
}

// Due reports whether the task should be checked at now.
func (t Task) Due(now time.Time) bool {
	if t.LastCheckTime == nil {
		return true
	}
	elapsed := now.Sub(*t.LastCheckTime)
	return elapsed >= time.Duration(t.CheckInterval)*time.Second
}

// ChangeEvent is recorded once per detected digest change.
type ChangeEvent struct {
	ID              int64     `json:"id"`
	TaskID          int64     `json:"task_id"`
	ContentHash     string    `json:"content_hash"`
	Summary         string    `json:"change_summary"`
	Detail          string    `json:"change_detail"`
	MatchedKeywords []string  `json:"matched_keywords,omitempty"`
	SnapshotURI     string    `json:"snapshot_uri,omitempty"`
	Notified        bool      `json:"is_notified"`
	DetectedAt      time.Time `json:"detected_at"`
}

// NotificationRecord captures one delivery attempt for a change. Records are
// append-only.
type NotificationRecord struct {
	ID           int64              `json:"id"`
	TaskID       int64              `json:"task_id"`
	ChangeID     int64              `json:"change_id"`
	Channel      Channel            `json:"notification_type"`
	Status       NotificationStatus `json:"status"`
	ErrorMessage string             `json:"error_message,omitempty"`
	SentAt       time.Time          `json:"sent_at"`
}

// VulnerabilityInfo holds identifiers mined from page text. It is attached to
// alerts only and never persisted on its own.
type VulnerabilityInfo struct {
	CVEIDs         []string `json:"cve_ids"`
	CNVDIDs        []string `json:"cnvd_ids"`
	CNNVDIDs       []string `json:"cnnvd_ids"`
	CVSSScores     []string `json:"cvss_scores"`
	SeverityLevels []string `json:"severity_levels"`
}

// Empty reports whether nothing was extracted.
func (v VulnerabilityInfo) Empty() bool {
	return len(v.CVEIDs) == 0 && len(v.CNVDIDs) == 0 && len(v.CNNVDIDs) == 0 &&
		len(v.CVSSScores) == 0 && len(v.SeverityLevels) == 0
}

// CheckRequest is the unit of work handed to the worker pool.
type CheckRequest struct {
	TaskID   int64
	RunID    string
	Manual   bool
	Enqueued time.Time
}

// Page is the normalized text returned by a Fetcher.
type Page struct {
	URL        string
	StatusCode int
	Text       string
	Encoding   string
	Duration   time.Duration
	// SelectorMatched is false when a selector was supplied but matched nothing.
	SelectorMatched bool
}

// CheckResult classifies how a single check ended.
type CheckResult string

// Check results, also used as metric labels.
const (
	CheckUnchanged   CheckResult = "unchanged"
	CheckChanged     CheckResult = "changed"
	CheckFetchFailed CheckResult = "fetch_failed"
	CheckStoreFailed CheckResult = "store_failed"
	CheckSkipped     CheckResult = "skipped"
	CheckPanicked    CheckResult = "panicked"
)

// CheckOutcome summarizes one pass of the check pipeline.
type CheckOutcome struct {
	TaskID        int64
	RunID         string
	Result        CheckResult
	Change        *ChangeEvent
	Notifications []NotificationRecord
	Err           error
}

// ChangeQuery pages through recorded changes, newest first. TaskID 0 selects
// every task.
type ChangeQuery struct {
	TaskID  int64
	Page    int
	PerPage int
}

// Normalize applies paging defaults.
func (q ChangeQuery) Normalize() ChangeQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = 20
	}
	if q.PerPage > 100 {
		q.PerPage = 100
	}
	return q
}

// Offset is the number of rows skipped before the requested page.
func (q ChangeQuery) Offset() int {
	return (q.Page - 1) * q.PerPage
}

// ChangePage is one page of change events.
type ChangePage struct {
	Changes []ChangeEvent `json:"changes"`
	Total   int           `json:"total"`
	Page    int           `json:"page"`
	PerPage int           `json:"per_page"`
	Pages   int           `json:"pages"`
}

// NewChangePage fills in the paging metadata for q.
func NewChangePage(q ChangeQuery, changes []ChangeEvent, total int) ChangePage {
	pages := 0
	if q.PerPage > 0 {
		pages = (total + q.PerPage - 1) / q.PerPage
	}
	if changes == nil {
		changes = []ChangeEvent{}
	}
	return ChangePage{Changes: changes, Total: total, Page: q.Page, PerPage: q.PerPage, Pages: pages}
}

// Stats are the dashboard counters.
type Stats struct {
	TotalTasks         int `json:"total_tasks"`
	ActiveTasks        int `json:"active_tasks"`
	TotalChanges       int `json:"total_changes"`
	RecentChanges      int `json:"recent_changes"`
	TotalNotifications int `json:"total_notifications"`
}
