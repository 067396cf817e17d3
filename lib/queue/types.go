// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import "time"

// Credentials are the rotating credentials used to authenticate queue
// requests. Worker-level credentials come from the credential file;
// claim-scoped credentials arrive with each claim and are rotated by
// every successful reclaim.
//
// Credentials are immutable once constructed. Rotation swaps whole
// *Credentials values (see Client.UseCredentials); fields are never
// mutated in place, so a concurrent reader can never observe a
// half-updated pair.
type Credentials struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
	Certificate string `json:"certificate,omitempty"`
}

// Equal reports whether two credential values are interchangeable.
// Nil equals nil.
func (c *Credentials) Equal(other *Credentials) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.ClientID == other.ClientID &&
		c.AccessToken == other.AccessToken &&
		c.Certificate == other.Certificate
}

// Claim is a lease on one task run, granted by a successful claim-work
// call. TakeUntil bounds the claim window with the queue service;
// renewing the claim (reclaim) extends TakeUntil and rotates
// Credentials, but never extends the task's own execution deadline.
type Claim struct {
	TaskID      string       `json:"task_id"`
	RunID       int          `json:"run_id"`
	TakeUntil   time.Time    `json:"take_until"`
	Credentials *Credentials `json:"credentials"`
	Payload     TaskPayload  `json:"payload"`
}

// TaskPayload describes the work: the command to execute and its
// environment. The command is executed verbatim — no shell layer is
// inserted by the worker.
type TaskPayload struct {
	Command []string          `json:"command"`
	Env     map[string]string `json:"env,omitempty"`
}

// Reclaim is the result of renewing a claim: the extended claim window
// and the next set of rotating credentials.
type Reclaim struct {
	TakeUntil   time.Time    `json:"take_until"`
	Credentials *Credentials `json:"credentials"`
}

// UploadTarget is the destination for one artifact upload, returned by
// CreateArtifact. The artifact body is delivered with an HTTP PUT to
// PutURL before Expires.
type UploadTarget struct {
	PutURL  string    `json:"put_url"`
	Expires time.Time `json:"expires"`
}
