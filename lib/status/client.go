// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/taskfleet/taskfleet/lib/codec"
)

// dialTimeout bounds the connect phase of a status query.
const dialTimeout = 5 * time.Second

// maxResponseSize is the maximum accepted CBOR response.
const maxResponseSize = 64 * 1024

// Client queries a worker's status socket. Each Query opens a new
// connection, matching the server's one-request-per-connection model.
type Client struct {
	socketPath string
}

// NewClient creates a client for the status socket at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Query fetches the worker's current status snapshot.
func (c *Client) Query(ctx context.Context) (Snapshot, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return Snapshot{}, fmt.Errorf("connecting to status socket %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(connectionTimeout))
	}

	if err := codec.NewEncoder(conn).Encode(request{Action: "status"}); err != nil {
		return Snapshot{}, fmt.Errorf("writing status request: %w", err)
	}
	// Half-close the write side so the server's read sees EOF cleanly.
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	var resp response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&resp); err != nil {
		return Snapshot{}, fmt.Errorf("reading status response: %w", err)
	}
	if !resp.OK {
		return Snapshot{}, fmt.Errorf("status socket error: %s", resp.Error)
	}

	var snapshot Snapshot
	if err := codec.Unmarshal(resp.Data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decoding status snapshot: %w", err)
	}
	return snapshot, nil
}
