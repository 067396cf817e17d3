// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/taskfleet/taskfleet/lib/clock"
)

// requestTimeout bounds a single queue HTTP request. This is separate
// from the retry budget — it covers one attempt.
const requestTimeout = 30 * time.Second

// maxResponseSize is the maximum accepted response body. Queue
// responses are small JSON documents; anything larger is a protocol
// violation.
const maxResponseSize = 4 * 1024 * 1024

// defaultRetryAttempts is the bounded retry budget for retryable
// failures (network errors and 5xx responses).
const defaultRetryAttempts = 5

// defaultRetryBaseDelay is the first backoff interval; subsequent
// attempts double it.
const defaultRetryBaseDelay = time.Second

// Client talks to the queue service's HTTP API on behalf of one
// worker identity. It is safe for concurrent use: the active
// credentials are held behind an atomic pointer and swapped whole by
// UseCredentials while in-flight calls read a consistent snapshot.
type Client struct {
	baseURL       string
	provisionerID string
	workerGroup   string
	workerType    string
	workerID      string

	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger

	retryAttempts  int
	retryBaseDelay time.Duration

	credentials atomic.Pointer[Credentials]
}

// ClientConfig configures a queue Client.
type ClientConfig struct {
	// BaseURL is the queue service root, e.g. "https://queue.example.com".
	// Required.
	BaseURL string

	// ProvisionerID, WorkerGroup, WorkerType, and WorkerID form this
	// worker's identity for claim-work calls. Required.
	ProvisionerID string
	WorkerGroup   string
	WorkerType    string
	WorkerID      string

	// Credentials are the initial (worker-level) credentials. Required.
	Credentials *Credentials

	// HTTPClient overrides the transport. Defaults to a client with
	// the standard request timeout.
	HTTPClient *http.Client

	// Clock drives retry backoff. Defaults to the real clock.
	Clock clock.Clock

	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// RetryAttempts and RetryBaseDelay tune the bounded retry budget.
	// Zero values select the defaults.
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// NewClient creates a queue client. Panics on missing required
// configuration — these are programming errors, not runtime
// conditions.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		panic("queue.Client: BaseURL is required")
	}
	if config.ProvisionerID == "" || config.WorkerGroup == "" || config.WorkerType == "" || config.WorkerID == "" {
		panic("queue.Client: worker identity is required")
	}
	if config.Credentials == nil {
		panic("queue.Client: Credentials are required")
	}
	if config.Logger == nil {
		panic("queue.Client: Logger is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	attempts := config.RetryAttempts
	if attempts == 0 {
		attempts = defaultRetryAttempts
	}
	baseDelay := config.RetryBaseDelay
	if baseDelay == 0 {
		baseDelay = defaultRetryBaseDelay
	}

	client := &Client{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		provisionerID:  config.ProvisionerID,
		workerGroup:    config.WorkerGroup,
		workerType:     config.WorkerType,
		workerID:       config.WorkerID,
		httpClient:     httpClient,
		clock:          clk,
		logger:         config.Logger,
		retryAttempts:  attempts,
		retryBaseDelay: baseDelay,
	}
	client.credentials.Store(config.Credentials)
	return client
}

// UseCredentials atomically replaces the active credentials. In-flight
// calls keep the snapshot they already read; every subsequent call
// signs with the new value.
func (c *Client) UseCredentials(credentials *Credentials) {
	if credentials == nil {
		return
	}
	c.credentials.Store(credentials)
}

// CurrentCredentials returns the credentials that the next call will
// sign with.
func (c *Client) CurrentCredentials() *Credentials {
	return c.credentials.Load()
}

// ClaimWork asks the queue for one pending task matching this worker's
// identity. Returns (nil, nil) when the queue has nothing claimable —
// an empty queue is a normal result, not an error.
func (c *Client) ClaimWork(ctx context.Context) (*Claim, error) {
	request := struct {
		WorkerGroup string `json:"worker_group"`
		WorkerID    string `json:"worker_id"`
		NumTasks    int    `json:"num_tasks"`
	}{
		WorkerGroup: c.workerGroup,
		WorkerID:    c.workerID,
		NumTasks:    1,
	}

	var response struct {
		Tasks []Claim `json:"tasks"`
	}

	path := fmt.Sprintf("/v1/claim-work/%s/%s", url.PathEscape(c.provisionerID), url.PathEscape(c.workerType))
	if err := c.call(ctx, http.MethodPost, path, request, &response); err != nil {
		return nil, err
	}

	if len(response.Tasks) == 0 {
		return nil, nil
	}
	claim := response.Tasks[0]
	return &claim, nil
}

// ReclaimTask renews the claim on a running task, extending the claim
// window and rotating the claim-scoped credentials. A conflict
// response means the claim is provably lost; the returned error
// satisfies errors.Is(err, ErrClaimLost).
func (c *Client) ReclaimTask(ctx context.Context, taskID string, runID int) (*Reclaim, error) {
	var response Reclaim
	path := fmt.Sprintf("/v1/task/%s/runs/%d/reclaim", url.PathEscape(taskID), runID)
	if err := c.call(ctx, http.MethodPost, path, nil, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ReportCompleted resolves the task run as successful.
func (c *Client) ReportCompleted(ctx context.Context, taskID string, runID int) error {
	path := fmt.Sprintf("/v1/task/%s/runs/%d/completed", url.PathEscape(taskID), runID)
	return c.call(ctx, http.MethodPost, path, nil, nil)
}

// ReportFailed resolves the task run as failed (the task's own process
// exited non-zero). The reason is recorded by the queue for operators;
// the captured log artifacts are the primary evidence.
func (c *Client) ReportFailed(ctx context.Context, taskID string, runID int, reason string) error {
	request := struct {
		Reason string `json:"reason"`
	}{Reason: reason}
	path := fmt.Sprintf("/v1/task/%s/runs/%d/failed", url.PathEscape(taskID), runID)
	return c.call(ctx, http.MethodPost, path, request, nil)
}

// ReportException resolves the task run as an exception: the worker
// could not give the task a fair run (e.g. worker shutdown), as
// opposed to the task itself failing.
func (c *Client) ReportException(ctx context.Context, taskID string, runID int, reason string) error {
	request := struct {
		Reason string `json:"reason"`
	}{Reason: reason}
	path := fmt.Sprintf("/v1/task/%s/runs/%d/exception", url.PathEscape(taskID), runID)
	return c.call(ctx, http.MethodPost, path, request, nil)
}

// CreateArtifact registers an artifact for the task run and returns
// the upload target. The artifact body is then PUT to the target URL
// by the caller.
func (c *Client) CreateArtifact(ctx context.Context, taskID string, runID int, name, contentType string, expires time.Time) (*UploadTarget, error) {
	request := struct {
		ContentType string    `json:"content_type"`
		Expires     time.Time `json:"expires"`
	}{
		ContentType: contentType,
		Expires:     expires,
	}

	var response UploadTarget
	path := fmt.Sprintf("/v1/task/%s/runs/%d/artifacts/%s", url.PathEscape(taskID), runID, url.PathEscape(name))
	if err := c.call(ctx, http.MethodPost, path, request, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// call performs one queue API request with bounded retries. Network
// errors and 5xx responses are retried with doubling backoff; any
// other error response is terminal. Each attempt signs with the
// credentials current at that moment, so a rotation between attempts
// takes effect immediately.
func (c *Client) call(ctx context.Context, method, path string, requestBody, responseBody any) error {
	var bodyBytes []byte
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encoding request for %s %s: %w", method, path, err)
		}
		bodyBytes = encoded
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if attempt > 1 {
			delay := c.retryBaseDelay << (attempt - 2)
			c.logger.Debug("retrying queue call",
				"method", method, "path", path,
				"attempt", attempt, "delay", delay)
			select {
			case <-c.clock.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retryable, err := c.attempt(ctx, method, path, bodyBytes, responseBody)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
		c.logger.Warn("queue call failed",
			"method", method, "path", path,
			"attempt", attempt, "error", err)
	}

	return fmt.Errorf("queue %s %s: retries exhausted: %w", method, path, lastErr)
}

// attempt performs a single HTTP exchange. The boolean reports whether
// the error is worth retrying.
func (c *Client) attempt(ctx context.Context, method, path string, bodyBytes []byte, responseBody any) (bool, error) {
	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	if bodyBytes != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	credentials := c.credentials.Load()
	signRequest(request, credentials, bodyBytes, c.clock.Now())

	response, err := c.httpClient.Do(request)
	if err != nil {
		// Transport-level failure: DNS, connect, TLS, timeout. All
		// retryable unless the context is gone.
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, err
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return true, fmt.Errorf("reading response: %w", err)
	}

	if response.StatusCode >= 500 {
		return true, &APIError{
			StatusCode: response.StatusCode,
			Method:     method,
			Path:       path,
			Message:    errorMessage(data),
		}
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return false, &APIError{
			StatusCode: response.StatusCode,
			Method:     method,
			Path:       path,
			Message:    errorMessage(data),
		}
	}

	if responseBody != nil && len(data) > 0 {
		if err := json.Unmarshal(data, responseBody); err != nil {
			return false, fmt.Errorf("decoding response for %s %s: %w", method, path, err)
		}
	}
	return false, nil
}

// errorMessage extracts the queue's error message from a response
// body, falling back to the raw body when it is not the standard
// {"message": ...} shape.
func errorMessage(data []byte) string {
	var wire struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &wire); err == nil && wire.Message != "" {
		return wire.Message
	}
	message := strings.TrimSpace(string(data))
	if message == "" {
		return "(empty response body)"
	}
	if len(message) > 200 {
		message = message[:200] + "..."
	}
	return message
}
