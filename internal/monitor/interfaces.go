package monitor

import (
	"context"
	"io"
	"time"
)

// Store is the durable task/change/notification store the pipeline depends on.
type Store interface {
	ListActiveTasks(ctx context.Context) ([]Task, error)
	GetTask(ctx context.Context, taskID int64) (Task, error)
	// WithTx runs fn inside one transaction. Writes made through tx are
	// discarded if fn returns an error.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Reader is the query surface used by the operational API.
type Reader interface {
	ListTasks(ctx context.Context) ([]Task, error)
	GetTask(ctx context.Context, taskID int64) (Task, error)
	ListChanges(ctx context.Context, q ChangeQuery) (ChangePage, error)
	// Stats counts changes detected at or after since as recent.
	Stats(ctx context.Context, since time.Time) (Stats, error)
}

// Tx is the write surface available inside Store.WithTx.
type Tx interface {
	UpdateTaskCheck(ctx context.Context, taskID int64, checkedAt time.Time, contentHash string) error
	InsertChange(ctx context.Context, change *ChangeEvent) error
	UpdateChangeNotified(ctx context.Context, changeID int64, notified bool) error
	InsertNotification(ctx context.Context, record *NotificationRecord) error
}

// Fetcher retrieves a page and normalizes it to plain text.
type Fetcher interface {
	Fetch(ctx context.Context, url, selector string) (Page, error)
}

// Queue provides enqueue/dequeue semantics for check requests.
type Queue interface {
	Enqueue(ctx context.Context, req CheckRequest) error
	Dequeue(ctx context.Context) (CheckRequest, error)
}

// BlobStore archives raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes change events to a message bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RateLimiter throttles outbound fetches per host.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
