// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskfleet/taskfleet/lib/clock"
	"github.com/taskfleet/taskfleet/lib/runner"
)

// watchdog enforces the hard per-task execution ceiling. It arms once
// when the subprocess starts and fires at most once; a task that
// finishes first disarms it.
//
// The tie between natural exit and timeout is decided by a single
// check of the execution record's terminal flag: whichever side
// observes the flag first wins, so a task can never be reported both
// completed and deadline-exceeded.
type watchdog struct {
	clock   clock.Clock
	logger  *slog.Logger
	timeout time.Duration
	grace   time.Duration

	// fired is closed after the watchdog has killed the process group.
	fired chan struct{}
}

func newWatchdog(clk clock.Clock, logger *slog.Logger, timeout, grace time.Duration) *watchdog {
	return &watchdog{
		clock:   clk,
		logger:  logger,
		timeout: timeout,
		grace:   grace,
		fired:   make(chan struct{}),
	}
}

// watch blocks until the execution finishes, ctx is cancelled, or the
// timeout elapses. On timeout it kills the process group and closes
// w.fired — unless the execution went terminal first, in which case it
// disarms silently.
func (w *watchdog) watch(ctx context.Context, ex *runner.Execution) {
	select {
	case <-ex.Done():
		return
	case <-ctx.Done():
		return
	case <-w.clock.After(w.timeout):
	}
	if ex.Terminal() {
		// Natural exit won the race.
		return
	}
	w.logger.Warn("task exceeded max runtime, killing process group",
		"timeout", w.timeout)
	if !ex.Kill(w.grace) {
		w.logger.Warn("task process group not reaped within grace")
	}
	close(w.fired)
}
