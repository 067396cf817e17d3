// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

// Taskfleet-status queries a running worker's status socket and prints
// what the worker is doing: idle, or the task it is executing with the
// claim window. Intended for operators and fleet health checks.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/taskfleet/taskfleet/lib/process"
	"github.com/taskfleet/taskfleet/lib/status"
	"github.com/taskfleet/taskfleet/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		socketPath  string
		timeout     time.Duration
		showVersion bool
	)
	pflag.StringVar(&socketPath, "socket", "/run/taskfleet/status.sock", "worker status socket path")
	pflag.DurationVar(&timeout, "timeout", 5*time.Second, "query timeout")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("taskfleet-status %s\n", version.Info())
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	snapshot, err := status.NewClient(socketPath).Query(ctx)
	if err != nil {
		return fmt.Errorf("querying %s: %w", socketPath, err)
	}

	switch snapshot.State {
	case status.StateRunning:
		fmt.Printf("worker %s: running task %s run %d (started %s, claim until %s)\n",
			snapshot.WorkerID, snapshot.TaskID, snapshot.RunID,
			snapshot.StartedAt.Format(time.RFC3339),
			snapshot.TakeUntil.Format(time.RFC3339))
	default:
		fmt.Printf("worker %s: idle\n", snapshot.WorkerID)
	}
	return nil
}
