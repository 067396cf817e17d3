// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"errors"
	"fmt"
)

// FatalReason classifies why the worker can no longer safely continue.
type FatalReason string

const (
	// ReasonDeadlineExceeded means the task outlived task_max_timeout
	// and was forcibly killed. A forced process-tree kill cannot be
	// proven clean (orphaned grandchildren, partial writes), so the
	// whole worker stops and a supervisor restarts it fresh.
	ReasonDeadlineExceeded FatalReason = "deadline-exceeded"

	// ReasonClaimLost means the queue granted this task's claim to
	// another worker. Continuing would risk duplicate execution.
	ReasonClaimLost FatalReason = "claim-lost"
)

// FatalError is an unrecoverable worker condition. It is deliberately
// a distinct type from task failures: a task exiting non-zero is
// routine and the worker moves on, but a FatalError means the caller
// must stop the worker process, not retry the cycle.
type FatalError struct {
	Reason FatalReason
	TaskID string
	RunID  int
	Err    error
}

func (e *FatalError) Error() string {
	message := fmt.Sprintf("fatal worker condition (%s) on task %s run %d", e.Reason, e.TaskID, e.RunID)
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err is (or wraps) a FatalError. Callers use
// this to decide between "continue polling" and "stop the worker".
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}
