// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

// Taskfleet-worker is the fleet task worker. It claims task runs from
// the queue service, executes each task's command in an isolated
// process group, keeps the claim alive while the task runs, uploads
// artifacts, and reports the outcome — then claims again.
//
// The worker runs one task at a time. Unrecoverable conditions (claim
// lost, task deadline exceeded) end the process with exit code 2 so a
// supervisor restarts it into a clean claim; ordinary startup errors
// exit with code 1.
//
// On startup:
//  1. Loads configuration (--config or TASKFLEET_CONFIG).
//  2. Reads worker credentials from the credentials file search path.
//  3. Optionally starts the local status socket.
//  4. Enters the claim loop until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/taskfleet/taskfleet/lib/artifact"
	"github.com/taskfleet/taskfleet/lib/clock"
	"github.com/taskfleet/taskfleet/lib/config"
	"github.com/taskfleet/taskfleet/lib/process"
	"github.com/taskfleet/taskfleet/lib/queue"
	"github.com/taskfleet/taskfleet/lib/runner"
	"github.com/taskfleet/taskfleet/lib/status"
	"github.com/taskfleet/taskfleet/lib/version"
	"github.com/taskfleet/taskfleet/lib/worker"
)

func main() {
	if err := run(); err != nil {
		if worker.IsFatal(err) {
			process.FatalWorker(err)
		}
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		verbose     bool
		showVersion bool
	)
	pflag.StringVar(&configPath, "config", "", "path to taskfleet.yaml (overrides TASKFLEET_CONFIG)")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pflag.BoolVar(&showVersion, "version", false, "print version information and exit")
	pflag.Parse()

	if showVersion {
		fmt.Printf("taskfleet-worker %s\n", version.Info())
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := slog.LevelInfo
	if verbose || cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	credentials, err := cfg.ReadWorkerCredentials()
	if err != nil {
		return fmt.Errorf("loading worker credentials: %w", err)
	}

	client := queue.NewClient(queue.ClientConfig{
		BaseURL:       cfg.Queue.BaseURL,
		ProvisionerID: cfg.Queue.ProvisionerID,
		WorkerGroup:   cfg.Queue.WorkerGroup,
		WorkerType:    cfg.Queue.WorkerType,
		WorkerID:      cfg.Queue.WorkerID,
		Credentials:   credentials,
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracker := status.NewTracker(cfg.Queue.WorkerID)
	waitStatus := startStatusServer(ctx, cfg.StatusSocket, tracker, logger)

	fleetWorker := &worker.Worker{
		Queue: client,
		Runner: &runner.Runner{
			WorkDir: cfg.Paths.WorkDir,
			LogDir:  cfg.Paths.LogDir,
			Logger:  logger,
		},
		Artifacts: &artifact.Publisher{
			Creator:       client,
			ArtifactDir:   cfg.Paths.ArtifactDir,
			LogDir:        cfg.Paths.LogDir,
			Logger:        logger,
			Expiry:        cfg.Intervals.ArtifactExpiry.Std(),
			UploadTimeout: cfg.Intervals.ArtifactUploadTimeout.Std(),
		},
		Status:                   tracker,
		Clock:                    clock.Real(),
		Logger:                   logger,
		ReclaimInterval:          cfg.Intervals.ReclaimInterval.Std(),
		CredentialUpdateInterval: cfg.Intervals.CredentialUpdateInterval.Std(),
		TaskMaxTimeout:           cfg.Intervals.TaskMaxTimeout.Std(),
		KillGrace:                cfg.Intervals.KillGrace.Std(),
	}

	logger.Info("worker starting",
		"worker_id", cfg.Queue.WorkerID,
		"worker_group", cfg.Queue.WorkerGroup,
		"worker_type", cfg.Queue.WorkerType,
		"queue", cfg.Queue.BaseURL,
		"version", version.Info())

	err = claimLoop(ctx, cfg, client, fleetWorker, clock.Real(), logger)

	// The claim loop can end without a signal (fatal condition);
	// cancel the context so the status server shuts down, and wait
	// for it so the socket file is removed before the process exits.
	stop()
	waitStatus()
	logger.Info("worker stopped")
	return err
}

// startStatusServer starts the status socket server when a socket
// path is configured. The returned wait function blocks until the
// server has drained and removed its socket file.
func startStatusServer(ctx context.Context, socketPath string, tracker *status.Tracker, logger *slog.Logger) func() {
	if socketPath == "" {
		return func() {}
	}
	server := status.NewServer(socketPath, tracker, logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.Serve(ctx); err != nil {
			logger.Error("status socket failed", "error", err)
		}
	}()
	return func() { <-done }
}

// taskBreather is the pause after a finished task before claiming
// again, so a queue full of instantly-failing tasks cannot spin the
// worker flat out.
const taskBreather = time.Second

// claimLoop runs task cycles until the context is cancelled or a
// fatal condition ends the worker. Between cycles the run directories
// are reset so no task sees another task's files; while idle the
// worker credentials file is re-read so operators can rotate
// long-lived credentials without a restart.
func claimLoop(ctx context.Context, cfg *config.Config, client *queue.Client, fleetWorker *worker.Worker, clk clock.Clock, logger *slog.Logger) error {
	credentials := client.CurrentCredentials()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := cfg.ResetRunDirs(); err != nil {
			return fmt.Errorf("resetting run directories: %w", err)
		}

		result, err := fleetWorker.RunCycle(ctx)
		switch {
		case worker.IsFatal(err):
			return err
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			logger.Error("task cycle failed", "error", err)
			client.UseCredentials(credentials)
			if !sleepInterruptible(ctx, clk, cfg.Intervals.PollInterval.Std()) {
				return nil
			}
		case result == nil:
			// Empty queue. Re-read the credentials file so rotations
			// take effect before the next claim.
			if fresh, err := cfg.ReadWorkerCredentials(); err != nil {
				logger.Warn("re-reading worker credentials failed", "error", err)
			} else if !fresh.Equal(credentials) {
				logger.Info("worker credentials rotated")
				client.UseCredentials(fresh)
				credentials = fresh
			}
			if !sleepInterruptible(ctx, clk, cfg.Intervals.PollInterval.Std()) {
				return nil
			}
		default:
			logger.Info("task cycle finished",
				"task_id", result.TaskID,
				"run_id", result.RunID,
				"exit_status", result.ExitStatus)
			// The cycle left the client holding claim-scoped
			// credentials; the next claim signs as the worker again.
			client.UseCredentials(credentials)
			if !sleepInterruptible(ctx, clk, taskBreather) {
				return nil
			}
		}
	}
}

// sleepInterruptible sleeps for d, returning false if ctx was
// cancelled first.
func sleepInterruptible(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-clk.After(d):
		return true
	}
}
