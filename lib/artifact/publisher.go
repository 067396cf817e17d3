// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"

	"github.com/taskfleet/taskfleet/lib/clock"
	"github.com/taskfleet/taskfleet/lib/queue"
)

// Artifact name prefixes. Task-produced files and captured logs live
// under separate prefixes so log retention policies can differ.
const (
	artifactPrefix = "public/artifacts"
	logPrefix      = "public/logs"
)

// DigestHeader carries the BLAKE3 digest of the uncompressed body so
// the storage side can verify the upload end to end.
const DigestHeader = "X-Taskfleet-Digest"

// Creator is the slice of the queue client the publisher needs:
// registering an artifact and receiving its upload target.
type Creator interface {
	CreateArtifact(ctx context.Context, taskID string, runID int, name, contentType string, expires time.Time) (*queue.UploadTarget, error)
}

// Publisher uploads one task run's artifacts and logs.
type Publisher struct {
	// Creator registers artifacts with the queue. Required.
	Creator Creator

	// ArtifactDir is walked recursively; every regular file becomes an
	// artifact under "public/artifacts/".
	ArtifactDir string

	// LogDir holds the captured task logs, uploaded under
	// "public/logs/".
	LogDir string

	// HTTPClient performs the PUT uploads. Defaults to a client with
	// no overall timeout; per-upload deadlines come from
	// UploadTimeout.
	HTTPClient *http.Client

	// Clock supplies the expiration base time. Defaults to the real
	// clock.
	Clock clock.Clock

	// Logger is the structured logger. Required.
	Logger *slog.Logger

	// Expiry is how long uploaded artifacts should be retained.
	Expiry time.Duration

	// UploadTimeout bounds each individual file upload, registration
	// included.
	UploadTimeout time.Duration
}

// Publish uploads every artifact and log file of the given run.
// Individual failures are logged and skipped; an error is returned
// only when files existed and none of them could be uploaded.
func (p *Publisher) Publish(ctx context.Context, taskID string, runID int) error {
	files, err := p.collect()
	if err != nil {
		return fmt.Errorf("collecting artifacts: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	uploaded := 0
	for _, file := range files {
		if err := p.uploadOne(ctx, taskID, runID, file); err != nil {
			p.Logger.Warn("artifact upload failed",
				"task_id", taskID, "run_id", runID,
				"artifact", file.name, "error", err)
			continue
		}
		uploaded++
	}
	if uploaded == 0 {
		return fmt.Errorf("all %d artifact uploads failed", len(files))
	}
	p.Logger.Info("artifacts published",
		"task_id", taskID, "run_id", runID,
		"uploaded", uploaded, "total", len(files))
	return nil
}

type localFile struct {
	name string // artifact name on the queue side
	path string // filesystem path
}

// collect lists the files to upload: the artifact directory tree, then
// the log files. A missing artifact directory is not an error; a task
// is free to produce no artifacts.
func (p *Publisher) collect() ([]localFile, error) {
	var files []localFile
	err := filepath.WalkDir(p.ArtifactDir, func(filePath string, entry fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		relative, err := filepath.Rel(p.ArtifactDir, filePath)
		if err != nil {
			return err
		}
		files = append(files, localFile{
			name: path.Join(artifactPrefix, filepath.ToSlash(relative)),
			path: filePath,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logEntries, err := os.ReadDir(p.LogDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range logEntries {
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, localFile{
			name: path.Join(logPrefix, entry.Name()),
			path: filepath.Join(p.LogDir, entry.Name()),
		})
	}
	return files, nil
}

func (p *Publisher) uploadOne(ctx context.Context, taskID string, runID int, file localFile) error {
	uploadCtx := ctx
	if p.UploadTimeout > 0 {
		var cancel context.CancelFunc
		uploadCtx, cancel = context.WithTimeout(ctx, p.UploadTimeout)
		defer cancel()
	}

	content, err := os.ReadFile(file.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file.path, err)
	}
	contentType := detectContentType(file.path)

	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	target, err := p.Creator.CreateArtifact(uploadCtx, taskID, runID, file.name, contentType, clk.Now().Add(p.Expiry))
	if err != nil {
		return fmt.Errorf("registering artifact: %w", err)
	}

	// Digest covers the uncompressed bytes so it stays valid no matter
	// how the body travels.
	digest := blake3.Sum256(content)

	body := content
	compressed := false
	if compressible(contentType) {
		var buffer bytes.Buffer
		writer := gzip.NewWriter(&buffer)
		if _, err := writer.Write(content); err != nil {
			return fmt.Errorf("compressing %s: %w", file.path, err)
		}
		if err := writer.Close(); err != nil {
			return fmt.Errorf("compressing %s: %w", file.path, err)
		}
		body = buffer.Bytes()
		compressed = true
	}

	request, err := http.NewRequestWithContext(uploadCtx, http.MethodPut, target.PutURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	request.Header.Set("Content-Type", contentType)
	request.Header.Set(DigestHeader, "blake3="+hex.EncodeToString(digest[:]))
	if compressed {
		request.Header.Set("Content-Encoding", "gzip")
	}

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("uploading: %w", err)
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body)
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("uploading: unexpected status %d", response.StatusCode)
	}
	p.Logger.Debug("artifact uploaded",
		"task_id", taskID, "run_id", runID,
		"artifact", file.name, "bytes", len(content),
		"digest", hex.EncodeToString(digest[:]),
		"compressed", compressed)
	return nil
}

func detectContentType(filePath string) string {
	extension := filepath.Ext(filePath)
	if extension == ".log" {
		return "text/plain; charset=utf-8"
	}
	if contentType := mime.TypeByExtension(extension); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}

// compressible reports whether gzip is worth applying. Media and
// archive types are already compressed; text-shaped content is not.
func compressible(contentType string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	switch {
	case strings.Contains(contentType, "json"),
		strings.Contains(contentType, "xml"),
		strings.Contains(contentType, "javascript"):
		return true
	}
	return false
}
