// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package status exposes the worker's current activity over a local
// Unix socket, so operational tooling can ask "what is this worker
// doing" without scraping logs.
//
// The [Tracker] is the in-process source of truth: the worker loop
// marks task start/end, the claim renewer records extended claim
// windows. The [Server] serves read-only [Snapshot] values over a
// CBOR request-response protocol with one exchange per connection;
// [Client] is the matching query side.
//
// Tracker methods are nil-safe no-ops, so the worker can update
// status unconditionally whether or not a status socket is
// configured.
package status
