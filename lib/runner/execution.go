// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"errors"
	"log/slog"
	"os/exec"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/taskfleet/taskfleet/lib/clock"
)

// Sentinel exit statuses. Real wait statuses surfaced by the runner
// are always >= 0, so negative values are unambiguous.
const (
	// KilledStatus is recorded when the process was terminated by
	// Kill (or died to an external signal) instead of exiting on its
	// own.
	KilledStatus = -1

	// SpawnFailedStatus is the status callers record when Start
	// itself failed and no process ever ran.
	SpawnFailedStatus = -2
)

// Execution is the record of one spawned task process. The exit
// status is set exactly once, when the process reaches its terminal
// state; Terminal reports atomically whether that has happened.
type Execution struct {
	// StartTime is when the process was spawned.
	StartTime time.Time

	// OutputLogPath and ErrorLogPath are the captured log files.
	OutputLogPath string
	ErrorLogPath  string

	clock        clock.Clock
	logger       *slog.Logger
	processGroup int

	done       chan struct{}
	terminal   atomic.Bool
	cancelled  atomic.Bool
	exitStatus atomic.Int64
}

// Done is closed when the process has terminated and both output
// pumps have drained.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Terminal reports whether the execution has reached its terminal
// state. This is the single authoritative completion check the
// deadline watchdog consults before firing: it becomes true exactly
// once, strictly before Done is closed.
func (e *Execution) Terminal() bool {
	return e.terminal.Load()
}

// ExitStatus returns the recorded exit status. Only meaningful after
// Terminal reports true. KilledStatus means the process did not exit
// on its own.
func (e *Execution) ExitStatus() int {
	return int(e.exitStatus.Load())
}

// Cancelled reports whether Kill was invoked on this execution.
func (e *Execution) Cancelled() bool {
	return e.cancelled.Load()
}

// Kill terminates the task's entire process group: SIGTERM first,
// then SIGKILL if the group is still alive after the grace period.
// The cancelled flag is set before any signal so the terminal status
// is recorded as KilledStatus even if the process exits during the
// race. Returns true when termination was confirmed within the grace
// bounds; false means the kill was delivered best-effort but the
// process had not been reaped in time.
func (e *Execution) Kill(grace time.Duration) bool {
	e.cancelled.Store(true)

	e.signalGroup(unix.SIGTERM)
	select {
	case <-e.done:
		return true
	case <-e.clock.After(grace):
	}

	e.signalGroup(unix.SIGKILL)
	select {
	case <-e.done:
		return true
	case <-e.clock.After(grace):
		return false
	}
}

// signalGroup sends sig to the whole process group. A group that has
// already exited (ESRCH) is not an error.
func (e *Execution) signalGroup(sig unix.Signal) {
	if err := unix.Kill(-e.processGroup, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		e.logger.Warn("signalling task process group failed",
			"pgid", e.processGroup, "signal", sig.String(), "error", err)
	}
}

// finish records the terminal state. Called exactly once from the
// runner's wait goroutine after the pumps have drained.
func (e *Execution) finish(waitErr error) {
	status := 0
	switch {
	case e.cancelled.Load():
		status = KilledStatus
	case waitErr == nil:
		status = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() >= 0 {
			status = exitErr.ExitCode()
		} else {
			// Died to a signal nobody here sent, or Wait itself
			// failed. Either way there is no real exit code.
			status = KilledStatus
		}
	}

	e.exitStatus.Store(int64(status))
	e.terminal.Store(true)
	close(e.done)
}
