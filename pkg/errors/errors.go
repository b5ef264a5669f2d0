// Package errors provides the structured error type used across the
// runtime: every core and adapter operation that can fail returns a
// *SyncError carrying a Kind, an optional cause, and the call site
// that raised it.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
)

// Kind classifies a SyncError by what went wrong, not by which
// component raised it — the same Kind can originate from a dispatch
// call, a repository, or the broker's sync loop.
type Kind string

const (
	KindInvalidInput          Kind = "invalid_input"
	KindUnauthorized          Kind = "unauthorized"
	KindNotFound              Kind = "not_found"
	KindStorage               Kind = "storage"
	KindConflict              Kind = "conflict"
	KindNetwork               Kind = "network"
	KindAggregateTypeMismatch Kind = "aggregate_type_mismatch"
)

// SyncError is the error type returned by every core and adapter
// operation.
type SyncError struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
	File    string
	Line    int
}

func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Cause
}

// New builds a SyncError for op/kind, capturing the caller's file and
// line for diagnostics.
func New(op string, kind Kind, message string, cause error) *SyncError {
	_, file, line, _ := runtime.Caller(1)
	return &SyncError{Op: op, Kind: kind, Message: message, Cause: cause, File: file, Line: line}
}

// KindOf returns the Kind carried by err if it is (or wraps) a
// *SyncError, and false otherwise.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	var e *SyncError
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
