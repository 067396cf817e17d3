// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/taskfleet/taskfleet/lib/queue"
)

// ErrNoCredentials is returned when no credential file exists on the
// search path.
var ErrNoCredentials = fmt.Errorf("no worker credentials file found")

// CredentialsSearchPath returns the default locations scanned for the
// worker credentials file, in precedence order.
func CredentialsSearchPath() []string {
	paths := []string{"taskfleet_creds.json"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "taskfleet", "credentials.jsonc"))
	}
	return append(paths, "/etc/taskfleet/credentials.jsonc")
}

// ReadWorkerCredentials loads the worker-level queue credentials from
// the first readable file on the search path. Files may contain
// comments and trailing commas (JSONC), so operators can annotate
// rotations in place.
//
// The worker re-reads this file while idle: replacing the file is how
// long-lived worker credentials are rotated without a restart.
func (c *Config) ReadWorkerCredentials() (*queue.Credentials, error) {
	searchPath := c.CredentialsFiles
	if len(searchPath) == 0 {
		searchPath = CredentialsSearchPath()
	}

	for _, path := range searchPath {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var credentials queue.Credentials
		if err := json.Unmarshal(jsonc.ToJSON(data), &credentials); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if credentials.ClientID == "" || credentials.AccessToken == "" {
			return nil, fmt.Errorf("%s: client_id and access_token are required", path)
		}
		return &credentials, nil
	}
	return nil, fmt.Errorf("%w (searched %v)", ErrNoCredentials, searchPath)
}
