// Package memory provides the in-process check queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan monitor.CheckRequest
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan monitor.CheckRequest, capacity),
	}
}

// Enqueue pushes a check request or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, req monitor.CheckRequest) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- req:
		return nil
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (monitor.CheckRequest, error) {
	select {
	case <-ctx.Done():
		return monitor.CheckRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req, ok := <-q.ch:
		if !ok {
			return monitor.CheckRequest{}, ErrClosed
		}
		return req, nil
	}
}

// Len reports how many requests are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown. Pending enqueuers must
// have returned, so callers cancel their contexts first.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
