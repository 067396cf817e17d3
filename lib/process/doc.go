// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for Taskfleet
// binaries. These centralize the raw stderr output that exists before
// or after the structured logger:
//
//   - Fatal error reporting when the logger may not be initialized.
//   - Process exit with a distinguished code for unrecoverable worker
//     conditions, so operational tooling can tell "restart the worker"
//     apart from ordinary startup failures.
package process
