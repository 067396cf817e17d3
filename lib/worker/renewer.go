// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/taskfleet/taskfleet/lib/clock"
	"github.com/taskfleet/taskfleet/lib/queue"
	"github.com/taskfleet/taskfleet/lib/status"
)

// renewer keeps one task's claim alive while the task executes. It
// reclaims on the reclaim interval and applies the most recently
// received rotating credentials to the queue client on the (typically
// much shorter) credential interval.
//
// The renewer runs in its own goroutine for exactly one task cycle;
// the worker loop cancels its context the moment the execution record
// is terminal, which guarantees no new queue call starts afterward.
type renewer struct {
	queue              Queue
	clock              clock.Clock
	logger             *slog.Logger
	tracker            *status.Tracker
	taskID             string
	runID              int
	reclaimInterval    time.Duration
	credentialInterval time.Duration

	// latest holds credentials received from the most recent reclaim
	// that have not yet been applied to the queue client. Only the
	// renewer goroutine touches it.
	latest *queue.Credentials
}

// run loops until ctx is cancelled. Returns ctx.Err() on cancellation
// (the normal end of a cycle) or an error satisfying
// errors.Is(err, queue.ErrClaimLost) when the claim is provably gone —
// the one reclaim failure that must stop the running task.
//
// Transient reclaim failures are logged and retried at the next tick:
// the claim window (take_until) gives the queue its own authoritative
// view of abandonment, so there is nothing safer the renewer could do
// than try again.
func (r *renewer) run(ctx context.Context) error {
	reclaimTicker := r.clock.NewTicker(r.reclaimInterval)
	defer reclaimTicker.Stop()
	credentialTicker := r.clock.NewTicker(r.credentialInterval)
	defer credentialTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-reclaimTicker.C:
			// A tick that raced cancellation must not turn into a
			// queue call after the task is terminal.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			reclaim, err := r.queue.ReclaimTask(ctx, r.taskID, r.runID)
			if err != nil {
				if errors.Is(err, queue.ErrClaimLost) {
					return err
				}
				r.logger.Warn("reclaim failed, retrying next interval",
					"task_id", r.taskID, "run_id", r.runID, "error", err)
				continue
			}
			r.latest = reclaim.Credentials
			r.tracker.UpdateTakeUntil(reclaim.TakeUntil)
			r.logger.Debug("claim renewed",
				"task_id", r.taskID, "run_id", r.runID,
				"take_until", reclaim.TakeUntil)

		case <-credentialTicker.C:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if r.latest != nil {
				r.queue.UseCredentials(r.latest)
				r.latest = nil
			}
		}
	}
}
