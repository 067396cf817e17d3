// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. This is
// the standard Taskfleet binary entrypoint error handler. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// FatalWorker writes "fatal: err" to stderr and exits with code 2.
// Exit code 2 is reserved for unrecoverable worker conditions (claim
// lost, task deadline exceeded) so supervisors can distinguish "restart
// me" from ordinary startup failures.
func FatalWorker(err error) {
	fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
	os.Exit(2)
}
