// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// socketDir creates a short-named temporary directory directly in
// /tmp. Unix socket paths are limited to 108 bytes and test tempdirs
// can be nested too deeply to fit.
func socketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "taskfleet-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(directory) })
	return directory
}

func TestTrackerLifecycle(t *testing.T) {
	t.Parallel()

	tracker := NewTracker("worker-1")
	if current := tracker.Current(); current.State != StateIdle || current.WorkerID != "worker-1" {
		t.Errorf("initial snapshot = %+v", current)
	}

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	takeUntil := started.Add(20 * time.Minute)
	tracker.SetRunning("task-abc", 0, takeUntil, started)

	current := tracker.Current()
	if current.State != StateRunning || current.TaskID != "task-abc" {
		t.Errorf("running snapshot = %+v", current)
	}

	extended := takeUntil.Add(20 * time.Minute)
	tracker.UpdateTakeUntil(extended)
	if current := tracker.Current(); !current.TakeUntil.Equal(extended) {
		t.Errorf("take_until = %v, want %v", current.TakeUntil, extended)
	}

	tracker.SetIdle()
	current = tracker.Current()
	if current.State != StateIdle || current.TaskID != "" {
		t.Errorf("idle snapshot = %+v", current)
	}
	if current.WorkerID != "worker-1" {
		t.Errorf("worker id lost on SetIdle: %+v", current)
	}

	// A reclaim response that raced task completion must not
	// resurrect task fields.
	tracker.UpdateTakeUntil(extended)
	if current := tracker.Current(); !current.TakeUntil.IsZero() {
		t.Errorf("idle tracker accepted take_until update: %+v", current)
	}
}

func TestNilTrackerIsNoOp(t *testing.T) {
	t.Parallel()

	var tracker *Tracker
	tracker.SetRunning("task-abc", 0, time.Now(), time.Now())
	tracker.UpdateTakeUntil(time.Now())
	tracker.SetIdle()
	if current := tracker.Current(); current != (Snapshot{}) {
		t.Errorf("nil tracker snapshot = %+v", current)
	}
}

func TestServerClientRoundTrip(t *testing.T) {
	t.Parallel()

	socketPath := filepath.Join(socketDir(t), "status.sock")
	tracker := NewTracker("worker-1")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveDone := make(chan error, 1)
	go func() { serveDone <- NewServer(socketPath, tracker, logger).Serve(ctx) }()

	// Wait for the socket file to appear.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("status socket never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tracker.SetRunning("task-abc", 2, started.Add(20*time.Minute), started)

	snapshot, err := NewClient(socketPath).Query(context.Background())
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if snapshot.State != StateRunning || snapshot.TaskID != "task-abc" || snapshot.RunID != 2 {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if snapshot.WorkerID != "worker-1" {
		t.Errorf("worker id = %q", snapshot.WorkerID)
	}

	cancel()
	select {
	case err := <-serveDone:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket file not removed on shutdown: %v", err)
	}
}
