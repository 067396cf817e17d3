// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker drives the task lifecycle: claim a task run from the
// queue, execute its command in an isolated process group, keep the
// claim alive while it runs, enforce the hard execution deadline, then
// publish artifacts and report the outcome.
//
// A cycle has exactly one winner among three outcomes — natural exit,
// deadline kill, claim loss — decided by the execution record's
// terminal flag. Deadline and claim-loss outcomes surface as
// FatalError, which tells the caller the worker process must exit and
// be replaced rather than claim more work.
package worker
