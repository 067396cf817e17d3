// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskfleet/taskfleet/lib/clock"
	"github.com/taskfleet/taskfleet/lib/queue"
	"github.com/taskfleet/taskfleet/lib/runner"
	"github.com/taskfleet/taskfleet/lib/status"
)

// Queue is the slice of the queue client the worker depends on.
// *queue.Client satisfies it; tests substitute recording fakes.
type Queue interface {
	ClaimWork(ctx context.Context) (*queue.Claim, error)
	ReclaimTask(ctx context.Context, taskID string, runID int) (*queue.Reclaim, error)
	ReportCompleted(ctx context.Context, taskID string, runID int) error
	ReportFailed(ctx context.Context, taskID string, runID int, reason string) error
	ReportException(ctx context.Context, taskID string, runID int, reason string) error
	UseCredentials(credentials *queue.Credentials)
}

// Publisher uploads the artifacts of one finished (or killed) task run.
type Publisher interface {
	Publish(ctx context.Context, taskID string, runID int) error
}

// Worker drives complete task cycles: claim, execute, keep the claim
// alive, publish artifacts, report the outcome. One Worker runs one
// task at a time.
type Worker struct {
	Queue     Queue
	Runner    *runner.Runner
	Artifacts Publisher
	Status    *status.Tracker
	Clock     clock.Clock
	Logger    *slog.Logger

	// ReclaimInterval is the cadence of claim renewal. It must be
	// comfortably shorter than the queue's claim window.
	ReclaimInterval time.Duration
	// CredentialUpdateInterval is the cadence at which rotated
	// credentials received from reclaims are applied to the queue
	// client.
	CredentialUpdateInterval time.Duration
	// TaskMaxTimeout is the hard ceiling on subprocess runtime.
	// Reclaims extend the claim, never this deadline.
	TaskMaxTimeout time.Duration
	// KillGrace is how long a SIGTERM'd process group gets before
	// SIGKILL.
	KillGrace time.Duration
}

// CycleResult summarizes one executed task.
type CycleResult struct {
	TaskID     string
	RunID      int
	ExitStatus int
}

// shutdownReportTimeout bounds the best-effort exception report sent
// when the worker is asked to stop mid-task. The worker's own context
// is already cancelled at that point, so the report gets a fresh one.
const shutdownReportTimeout = 30 * time.Second

// RunCycle performs at most one task cycle: it asks the queue for
// work, and if a task is granted, executes it to completion and
// reports the outcome. (nil, nil) means the queue was empty.
//
// A non-nil *CycleResult is returned whenever a task ran, even if
// reporting the outcome failed; the accompanying error carries the
// report failure. Errors satisfying IsFatal mean the worker process
// must exit rather than claim again.
func (w *Worker) RunCycle(ctx context.Context) (*CycleResult, error) {
	claim, err := w.Queue.ClaimWork(ctx)
	if err != nil {
		return nil, fmt.Errorf("claiming work: %w", err)
	}
	if claim == nil {
		return nil, nil
	}
	logger := w.Logger.With("task_id", claim.TaskID, "run_id", claim.RunID)
	logger.Info("task claimed", "take_until", claim.TakeUntil)

	// All queue traffic for this task authenticates with the
	// claim-scoped credentials from here on.
	w.Queue.UseCredentials(claim.Credentials)
	start := w.Clock.Now()
	w.Status.SetRunning(claim.TaskID, claim.RunID, claim.TakeUntil, start)
	defer w.Status.SetIdle()

	execution, err := w.Runner.Start(claim.Payload.Command, claim.Payload.Env)
	if err != nil {
		// The spawn failure evidence is already in the task logs;
		// publish them so the failure is diagnosable from the queue
		// side, then report the run failed.
		logger.Error("task spawn failed", "error", err)
		if pubErr := w.Artifacts.Publish(ctx, claim.TaskID, claim.RunID); pubErr != nil {
			logger.Warn("artifact publish failed after spawn failure", "error", pubErr)
		}
		if repErr := w.Queue.ReportFailed(ctx, claim.TaskID, claim.RunID, fmt.Sprintf("spawn failed: %v", err)); repErr != nil {
			return &CycleResult{TaskID: claim.TaskID, RunID: claim.RunID, ExitStatus: runner.SpawnFailedStatus},
				fmt.Errorf("reporting spawn failure: %w", repErr)
		}
		return &CycleResult{TaskID: claim.TaskID, RunID: claim.RunID, ExitStatus: runner.SpawnFailedStatus}, nil
	}

	renewCtx, cancelRenew := context.WithCancel(ctx)
	defer cancelRenew()
	renewErr := make(chan error, 1)
	ren := &renewer{
		queue:              w.Queue,
		clock:              w.Clock,
		logger:             logger,
		tracker:            w.Status,
		taskID:             claim.TaskID,
		runID:              claim.RunID,
		reclaimInterval:    w.ReclaimInterval,
		credentialInterval: w.CredentialUpdateInterval,
	}
	go func() { renewErr <- ren.run(renewCtx) }()

	dog := newWatchdog(w.Clock, logger, w.TaskMaxTimeout, w.KillGrace)
	go dog.watch(renewCtx, execution)

	result := &CycleResult{TaskID: claim.TaskID, RunID: claim.RunID}
	for {
		select {
		case <-dog.fired:
			// The watchdog already delivered the kill with bounded
			// grace. A descendant that escaped the process group can
			// hold the log pipes open and keep Done from ever closing,
			// so the fatal condition must not wait on it — and the
			// claim may already be stale, so no queue calls (artifact
			// registration included) happen on this path.
			cancelRenew()
			result.ExitStatus = runner.KilledStatus
			return result, &FatalError{
				Reason: ReasonDeadlineExceeded,
				TaskID: claim.TaskID,
				RunID:  claim.RunID,
				Err:    fmt.Errorf("task ran past %s", w.TaskMaxTimeout),
			}

		case err := <-renewErr:
			if !errors.Is(err, queue.ErrClaimLost) {
				// The renewer only returns early on cancellation or
				// claim loss; cancellation is handled by the branches
				// that triggered it, so keep waiting for them.
				continue
			}
			logger.Error("claim lost, killing task")
			if !execution.Kill(w.KillGrace) {
				logger.Warn("task process group not reaped within grace")
			}
			result.ExitStatus = runner.KilledStatus
			return result, &FatalError{
				Reason: ReasonClaimLost,
				TaskID: claim.TaskID,
				RunID:  claim.RunID,
				Err:    err,
			}

		case <-execution.Done():
			if execution.Cancelled() {
				// The watchdog (or claim-lost path) killed it; their
				// branches own the outcome.
				continue
			}
			cancelRenew()
			result.ExitStatus = execution.ExitStatus()
			return result, w.reportOutcome(ctx, logger, claim, execution)

		case <-ctx.Done():
			logger.Info("worker stopping, killing task")
			if !execution.Kill(w.KillGrace) {
				logger.Warn("task process group not reaped within grace")
			}
			cancelRenew()
			result.ExitStatus = runner.KilledStatus
			w.reportShutdown(logger, claim)
			return result, ctx.Err()
		}
	}
}

// reportOutcome publishes artifacts and reports the natural exit of a
// task. Publish failures are logged but never mask the task outcome;
// report failures surface to the caller.
func (w *Worker) reportOutcome(ctx context.Context, logger *slog.Logger, claim *queue.Claim, execution *runner.Execution) error {
	w.publishBestEffort(ctx, logger, claim)
	exitStatus := execution.ExitStatus()
	if exitStatus == 0 {
		logger.Info("task completed")
		if err := w.Queue.ReportCompleted(ctx, claim.TaskID, claim.RunID); err != nil {
			return fmt.Errorf("reporting completed: %w", err)
		}
		return nil
	}
	logger.Info("task failed", "exit_status", exitStatus)
	reason := fmt.Sprintf("command exited with status %d; see %s", exitStatus, runner.ErrorLogName)
	if err := w.Queue.ReportFailed(ctx, claim.TaskID, claim.RunID, reason); err != nil {
		return fmt.Errorf("reporting failed: %w", err)
	}
	return nil
}

func (w *Worker) publishBestEffort(ctx context.Context, logger *slog.Logger, claim *queue.Claim) {
	if err := w.Artifacts.Publish(ctx, claim.TaskID, claim.RunID); err != nil {
		logger.Warn("artifact publish failed", "error", err)
	}
}

// reportShutdown tells the queue the run ended because the worker is
// going away, so the task can be retried elsewhere. The worker context
// is already cancelled, hence the fresh bounded one.
func (w *Worker) reportShutdown(logger *slog.Logger, claim *queue.Claim) {
	reportCtx, cancel := context.WithTimeout(context.Background(), shutdownReportTimeout)
	defer cancel()
	w.publishBestEffort(reportCtx, logger, claim)
	if err := w.Queue.ReportException(reportCtx, claim.TaskID, claim.RunID, "worker-shutdown"); err != nil {
		logger.Warn("shutdown exception report failed", "error", err)
	}
}
