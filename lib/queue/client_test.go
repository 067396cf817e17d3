// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		BaseURL:        serverURL,
		ProvisionerID:  "signing",
		WorkerGroup:    "test-group",
		WorkerType:     "signer-v1",
		WorkerID:       "worker-1",
		Credentials:    &Credentials{ClientID: "worker-client", AccessToken: "worker-token"},
		Logger:         testLogger(),
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
	})
}

func TestClaimWorkEmptyQueue(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/claim-work/signing/signer-v1" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"tasks": []}`)
	}))
	defer server.Close()

	claim, err := testClient(t, server.URL).ClaimWork(context.Background())
	if err != nil {
		t.Fatalf("ClaimWork: %v", err)
	}
	if claim != nil {
		t.Errorf("claim = %+v, want nil for empty queue", claim)
	}
}

func TestClaimWorkReturnsClaim(t *testing.T) {
	t.Parallel()

	takeUntil := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var request struct {
			WorkerGroup string `json:"worker_group"`
			WorkerID    string `json:"worker_id"`
			NumTasks    int    `json:"num_tasks"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decoding claim-work request: %v", err)
		}
		if request.WorkerID != "worker-1" || request.NumTasks != 1 {
			t.Errorf("request = %+v", request)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"tasks": []map[string]any{{
				"task_id":    "task-abc",
				"run_id":     0,
				"take_until": takeUntil,
				"credentials": map[string]string{
					"client_id":    "task-client",
					"access_token": "task-token",
					"certificate":  "cert-blob",
				},
				"payload": map[string]any{
					"command": []string{"sign", "--input", "build.tar"},
					"env":     map[string]string{"LEVEL": "release"},
				},
			}},
		})
	}))
	defer server.Close()

	claim, err := testClient(t, server.URL).ClaimWork(context.Background())
	if err != nil {
		t.Fatalf("ClaimWork: %v", err)
	}
	if claim == nil {
		t.Fatal("claim = nil, want a task")
	}
	if claim.TaskID != "task-abc" || claim.RunID != 0 {
		t.Errorf("claim identity = %s/%d", claim.TaskID, claim.RunID)
	}
	if !claim.TakeUntil.Equal(takeUntil) {
		t.Errorf("take_until = %v, want %v", claim.TakeUntil, takeUntil)
	}
	if claim.Credentials == nil || claim.Credentials.ClientID != "task-client" {
		t.Errorf("credentials = %+v", claim.Credentials)
	}
	if len(claim.Payload.Command) != 3 || claim.Payload.Command[0] != "sign" {
		t.Errorf("command = %v", claim.Payload.Command)
	}
}

func TestReclaimConflictIsClaimLost(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"message": "run resolved by another worker"}`)
	}))
	defer server.Close()

	_, err := testClient(t, server.URL).ReclaimTask(context.Background(), "task-abc", 0)
	if !errors.Is(err, ErrClaimLost) {
		t.Fatalf("err = %v, want ErrClaimLost", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
}

func TestCallRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	if err := testClient(t, server.URL).ReportCompleted(context.Background(), "task-abc", 0); err != nil {
		t.Fatalf("ReportCompleted after retries: %v", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestCallDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message": "malformed"}`)
	}))
	defer server.Close()

	err := testClient(t, server.URL).ReportCompleted(context.Background(), "task-abc", 0)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400 APIError", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", got)
	}
}

func TestSignatureVerifiesServerSide(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := r.Header.Get("Authorization")
		fields := map[string]string{}
		for _, part := range strings.Split(strings.TrimPrefix(authorization, "Taskfleet-HMAC "), ", ") {
			key, value, ok := strings.Cut(part, "=")
			if !ok {
				t.Fatalf("malformed authorization field %q", part)
			}
			fields[key] = value
		}
		if fields["client-id"] != "worker-client" {
			t.Errorf("client-id = %q", fields["client-id"])
		}

		body, _ := io.ReadAll(r.Body)
		bodyDigest := sha256.Sum256(body)
		mac := hmac.New(sha256.New, []byte("worker-token"))
		fmt.Fprintf(mac, "%s\n%s\n%s\n%s", r.Method, r.URL.Path, fields["ts"], hex.EncodeToString(bodyDigest[:]))
		if expected := hex.EncodeToString(mac.Sum(nil)); fields["signature"] != expected {
			t.Errorf("signature = %q, want %q", fields["signature"], expected)
		}

		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	if err := testClient(t, server.URL).ReportFailed(context.Background(), "task-abc", 0, "exit 2"); err != nil {
		t.Fatalf("ReportFailed: %v", err)
	}
}

func TestUseCredentialsAffectsSubsequentCalls(t *testing.T) {
	t.Parallel()

	var seenClientIDs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := r.Header.Get("Authorization")
		for _, part := range strings.Split(strings.TrimPrefix(authorization, "Taskfleet-HMAC "), ", ") {
			if key, value, _ := strings.Cut(part, "="); key == "client-id" {
				seenClientIDs = append(seenClientIDs, value)
			}
		}
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := testClient(t, server.URL)
	ctx := context.Background()

	if err := client.ReportCompleted(ctx, "task-abc", 0); err != nil {
		t.Fatalf("ReportCompleted: %v", err)
	}
	client.UseCredentials(&Credentials{ClientID: "rotated-client", AccessToken: "rotated-token"})
	if err := client.ReportCompleted(ctx, "task-abc", 0); err != nil {
		t.Fatalf("ReportCompleted: %v", err)
	}

	want := []string{"worker-client", "rotated-client"}
	if len(seenClientIDs) != 2 || seenClientIDs[0] != want[0] || seenClientIDs[1] != want[1] {
		t.Errorf("client ids = %v, want %v", seenClientIDs, want)
	}
}

func TestCreateArtifactTarget(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawPath+r.URL.Path, "artifacts") {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"put_url": "https://storage.example.com/upload/abc",
			"expires": time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		})
	}))
	defer server.Close()

	target, err := testClient(t, server.URL).CreateArtifact(
		context.Background(), "task-abc", 0,
		"public/logs/task_output.log", "text/plain",
		time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	if target.PutURL != "https://storage.example.com/upload/abc" {
		t.Errorf("put_url = %q", target.PutURL)
	}
}

func TestCredentialsEqual(t *testing.T) {
	t.Parallel()

	a := &Credentials{ClientID: "x", AccessToken: "y"}
	b := &Credentials{ClientID: "x", AccessToken: "y"}
	c := &Credentials{ClientID: "x", AccessToken: "z"}

	if !a.Equal(b) {
		t.Error("identical credentials not Equal")
	}
	if a.Equal(c) {
		t.Error("differing credentials reported Equal")
	}
	if a.Equal(nil) {
		t.Error("non-nil Equal(nil)")
	}
	var nilCreds *Credentials
	if !nilCreds.Equal(nil) {
		t.Error("nil.Equal(nil) should be true")
	}
}
