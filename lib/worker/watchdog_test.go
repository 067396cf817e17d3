// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskfleet/taskfleet/lib/clock"
	"github.com/taskfleet/taskfleet/lib/runner"
	"github.com/taskfleet/taskfleet/lib/testutil"
)

func watchdogRunner(t *testing.T) *runner.Runner {
	t.Helper()
	base := t.TempDir()
	workDir := filepath.Join(base, "work")
	logDir := filepath.Join(base, "log")
	for _, directory := range []string{workDir, logDir} {
		if err := os.MkdirAll(directory, 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
	}
	return &runner.Runner{
		WorkDir: workDir,
		LogDir:  logDir,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestWatchdogKillsOnTimeout(t *testing.T) {
	t.Parallel()

	execution, err := watchdogRunner(t).Start([]string{"sleep", "60"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	clk := clock.Fake(time.Unix(1700000000, 0))
	dog := newWatchdog(clk, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Minute, 2*time.Second)
	go dog.watch(context.Background(), execution)

	clk.WaitForTimers(1)
	clk.Advance(5 * time.Minute)

	testutil.RequireClosed(t, dog.fired, 10*time.Second, "watchdog fire")
	testutil.RequireClosed(t, execution.Done(), 10*time.Second, "task death")
	if !execution.Cancelled() {
		t.Error("Cancelled() = false after watchdog kill")
	}
	if status := execution.ExitStatus(); status != runner.KilledStatus {
		t.Errorf("exit status = %d, want %d", status, runner.KilledStatus)
	}
}

func TestWatchdogDisarmsOnNaturalExit(t *testing.T) {
	t.Parallel()

	execution, err := watchdogRunner(t).Start([]string{"sh", "-c", "true"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	testutil.RequireClosed(t, execution.Done(), 10*time.Second, "task exit")

	clk := clock.Fake(time.Unix(1700000000, 0))
	dog := newWatchdog(clk, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Minute, 2*time.Second)
	watchDone := make(chan struct{})
	go func() {
		dog.watch(context.Background(), execution)
		close(watchDone)
	}()

	// Even if the timer races the exit, the terminal check wins.
	clk.WaitForTimers(1)
	clk.Advance(5 * time.Minute)
	testutil.RequireClosed(t, watchDone, 10*time.Second, "watchdog return")
	testutil.RequireNoReceive(t, dog.fired, 200*time.Millisecond, "fired after natural exit")
	if execution.Cancelled() {
		t.Error("Cancelled() = true, watchdog must not kill a finished task")
	}
	if status := execution.ExitStatus(); status != 0 {
		t.Errorf("exit status = %d, want 0", status)
	}
}

func TestWatchdogStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	execution, err := watchdogRunner(t).Start([]string{"sleep", "60"}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		execution.Kill(time.Second)
	}()

	clk := clock.Fake(time.Unix(1700000000, 0))
	dog := newWatchdog(clk, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Minute, 2*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan struct{})
	go func() {
		dog.watch(ctx, execution)
		close(watchDone)
	}()

	clk.WaitForTimers(1)
	cancel()
	testutil.RequireClosed(t, watchDone, 10*time.Second, "watchdog return")
	if execution.Terminal() {
		t.Error("task died without the watchdog firing or a kill")
	}
	testutil.RequireNoReceive(t, dog.fired, 200*time.Millisecond, "fired after cancel")
}
