package monitor

import (
	"errors"
	"fmt"
)

// ErrTaskNotFound signals that the requested task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// FetchKind classifies fetch failures.
type FetchKind string

// Fetch failure kinds.
const (
	FetchNetwork FetchKind = "network"
	FetchStatus  FetchKind = "status"
	FetchParse   FetchKind = "parse"
)

// FetchError aborts the current check of one task. It is never fatal to the
// scheduler.
type FetchError struct {
	URL        string
	Kind       FetchKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StoreError wraps a persistence failure for a single operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
