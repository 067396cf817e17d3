// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact uploads the files a task run produced: everything
// under the artifact directory plus the captured task logs. Each file
// gets an upload target from the queue, then is delivered with an HTTP
// PUT, gzip-compressed when the content type benefits and tagged with
// a BLAKE3 digest header for end-to-end integrity checks.
//
// Uploads are best-effort per file so one bad file cannot suppress the
// rest of the evidence; Publish only reports an error when every
// upload failed.
package artifact
