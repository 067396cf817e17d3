// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner spawns task commands as isolated subprocesses with
// their output captured to append-mode log files.
//
// Each task runs in its own process group so that cancellation can
// reach every descendant with a single signal to the negative pgid.
// Stdout and stderr are drained concurrently with the process by pump
// goroutines: stdout goes to the output log, stderr goes to both the
// output log (with an ERROR prefix, preserving interleaving context)
// and a separate error log usable alone as failure evidence.
//
// A non-zero exit status is a normal outcome here — the runner
// reports what happened, the worker loop decides what it means. The
// only sentinel statuses are [KilledStatus] (terminated rather than
// exited) and [SpawnFailedStatus] (no process ever ran); both are
// negative and therefore disjoint from real wait statuses.
package runner
