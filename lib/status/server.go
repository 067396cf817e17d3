// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/taskfleet/taskfleet/lib/codec"
)

// connectionTimeout bounds a single request-response exchange. Status
// requests are tiny; a peer that takes longer is stuck.
const connectionTimeout = 10 * time.Second

// maxRequestSize is the maximum accepted CBOR request.
const maxRequestSize = 64 * 1024

// request is the wire format of a status socket request.
type request struct {
	Action string `cbor:"action"`
}

// response is the wire-format envelope for status socket responses.
type response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// Server serves worker status over a Unix socket using a CBOR
// request-response protocol. Each connection handles exactly one
// request-response cycle: the client writes a CBOR request, the
// server writes a CBOR response, and the connection closes.
type Server struct {
	socketPath string
	tracker    *Tracker
	logger     *slog.Logger

	// activeConnections tracks in-flight handlers so Serve can drain
	// them during shutdown.
	activeConnections sync.WaitGroup
}

// NewServer creates a status server for the given tracker.
func NewServer(socketPath string, tracker *Tracker, logger *slog.Logger) *Server {
	if socketPath == "" {
		panic("status.Server: socket path is required")
	}
	if tracker == nil {
		panic("status.Server: tracker is required")
	}
	if logger == nil {
		panic("status.Server: logger is required")
	}
	return &Server{
		socketPath: socketPath,
		tracker:    tracker,
		logger:     logger,
	}
}

// Serve accepts connections until ctx is cancelled, then drains
// active handlers. Any stale socket file at the configured path is
// removed before listening; the socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale status socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("status socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("status socket accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handle(conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handle processes one request-response exchange.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connectionTimeout))

	var req request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&req); err != nil {
		s.logger.Warn("undecodable status request", "error", err)
		return
	}

	var resp response
	switch req.Action {
	case "status":
		data, err := codec.Marshal(s.tracker.Current())
		if err != nil {
			resp = response{Error: fmt.Sprintf("encoding snapshot: %v", err)}
		} else {
			resp = response{OK: true, Data: data}
		}
	default:
		resp = response{Error: fmt.Sprintf("unknown action %q", req.Action)}
	}

	if err := codec.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("writing status response failed", "error", err)
	}
}
