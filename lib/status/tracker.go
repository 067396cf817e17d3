// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"sync"
	"time"
)

// State is the worker's coarse activity state.
type State string

const (
	// StateIdle means no task claim is active.
	StateIdle State = "idle"

	// StateRunning means a task is claimed and executing.
	StateRunning State = "running"
)

// Snapshot is a point-in-time view of worker activity, served over
// the status socket.
type Snapshot struct {
	WorkerID  string    `cbor:"worker_id"`
	State     State     `cbor:"state"`
	TaskID    string    `cbor:"task_id,omitempty"`
	RunID     int       `cbor:"run_id,omitempty"`
	StartedAt time.Time `cbor:"started_at,omitempty"`
	TakeUntil time.Time `cbor:"take_until,omitempty"`
}

// Tracker holds the worker's current status. Writers are the worker
// loop (task start/end) and the claim renewer (take_until extension);
// the reader is the status socket server.
//
// All methods are nil-safe: on a nil receiver they are no-ops (reads
// return a zero snapshot). This lets the worker update status
// unconditionally whether or not the status socket is configured.
type Tracker struct {
	mu       sync.Mutex
	snapshot Snapshot
}

// NewTracker creates a tracker in the idle state.
func NewTracker(workerID string) *Tracker {
	return &Tracker{snapshot: Snapshot{WorkerID: workerID, State: StateIdle}}
}

// SetRunning records the start of a task execution.
func (t *Tracker) SetRunning(taskID string, runID int, takeUntil, startedAt time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshot.State = StateRunning
	t.snapshot.TaskID = taskID
	t.snapshot.RunID = runID
	t.snapshot.TakeUntil = takeUntil
	t.snapshot.StartedAt = startedAt
}

// UpdateTakeUntil records an extended claim window after a successful
// reclaim. Ignored when no task is running (a reclaim response that
// raced task completion).
func (t *Tracker) UpdateTakeUntil(takeUntil time.Time) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snapshot.State != StateRunning {
		return
	}
	t.snapshot.TakeUntil = takeUntil
}

// SetIdle clears task fields and returns the tracker to idle.
func (t *Tracker) SetIdle() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	workerID := t.snapshot.WorkerID
	t.snapshot = Snapshot{WorkerID: workerID, State: StateIdle}
}

// Current returns the current snapshot. A nil tracker returns the
// zero snapshot.
func (t *Tracker) Current() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot
}
