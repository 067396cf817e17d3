// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrClaimLost indicates the queue no longer recognizes this worker as
// the claim holder — the claim expired or was superseded by another
// worker. Continuing to execute the task would risk duplicate
// execution, so callers must treat this as unrecoverable for the
// running task.
var ErrClaimLost = errors.New("task claim lost")

// APIError is a non-retryable error response from the queue service.
// Conflict responses (409) unwrap to [ErrClaimLost] so callers can use
// errors.Is without inspecting status codes.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("queue %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusConflict {
		return ErrClaimLost
	}
	return nil
}
