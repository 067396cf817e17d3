// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue implements the client side of the queue service's
// worker API: claiming work, renewing claims, resolving task runs, and
// registering artifacts.
//
// The queue owns scheduling and task state; the worker only holds a
// time-bounded [Claim] on one run at a time. Claims carry rotating
// credentials scoped to the claimed run. [Client.UseCredentials] swaps
// the active credentials atomically as whole objects — a concurrent
// queue call either signs with the old pair or the new pair, never a
// mix.
//
// Failure handling follows the worker's asymmetric model: transport
// errors and 5xx responses are retried with bounded attempts and
// doubling backoff; a conflict on reclaim or report means the claim is
// provably lost ([ErrClaimLost]) and is never retried. An empty queue
// is a normal ClaimWork result, not an error.
package queue
