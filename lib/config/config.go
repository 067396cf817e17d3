// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from YAML strings like
// "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the worker configuration.
type Config struct {
	// Queue identifies the queue service and this worker's slot in
	// the fleet.
	Queue QueueConfig `yaml:"queue"`

	// Paths configures the per-run directories.
	Paths PathsConfig `yaml:"paths"`

	// Intervals configures the worker's timing knobs.
	Intervals IntervalsConfig `yaml:"intervals"`

	// CredentialsFiles overrides the default credential file search
	// path. The first readable file wins.
	CredentialsFiles []string `yaml:"credentials_files,omitempty"`

	// StatusSocket, when set, is the Unix socket path on which the
	// worker answers local status queries.
	StatusSocket string `yaml:"status_socket,omitempty"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
}

// QueueConfig identifies the queue service and the worker.
type QueueConfig struct {
	// BaseURL is the queue service root, e.g. https://queue.example.com.
	BaseURL string `yaml:"base_url"`

	// ProvisionerID and WorkerType select the task pool this worker
	// claims from.
	ProvisionerID string `yaml:"provisioner_id"`
	WorkerType    string `yaml:"worker_type"`

	// WorkerGroup and WorkerID identify this worker instance to the
	// queue.
	WorkerGroup string `yaml:"worker_group"`
	WorkerID    string `yaml:"worker_id"`
}

// PathsConfig configures the per-run directories. WorkDir and
// ArtifactDir are wiped between runs; LogDir is recreated so each run
// starts with fresh logs.
type PathsConfig struct {
	Root        string `yaml:"root"`
	WorkDir     string `yaml:"work_dir"`
	ArtifactDir string `yaml:"artifact_dir"`
	LogDir      string `yaml:"log_dir"`
}

// IntervalsConfig configures the worker's timing knobs.
type IntervalsConfig struct {
	// PollInterval is how long the worker sleeps after finding the
	// queue empty.
	PollInterval Duration `yaml:"poll_interval"`

	// ReclaimInterval is the claim renewal cadence. It must be
	// shorter than the queue's claim window.
	ReclaimInterval Duration `yaml:"reclaim_interval"`

	// CredentialUpdateInterval is how often rotated credentials from
	// reclaims are applied to the queue client.
	CredentialUpdateInterval Duration `yaml:"credential_update_interval"`

	// TaskMaxTimeout is the hard ceiling on task runtime.
	TaskMaxTimeout Duration `yaml:"task_max_timeout"`

	// KillGrace is the SIGTERM-to-SIGKILL grace period.
	KillGrace Duration `yaml:"kill_grace"`

	// ArtifactExpiry is how long uploaded artifacts are retained.
	ArtifactExpiry Duration `yaml:"artifact_expiry"`

	// ArtifactUploadTimeout bounds each artifact upload.
	ArtifactUploadTimeout Duration `yaml:"artifact_upload_timeout"`
}

// Default returns the default configuration. Defaults give every
// field a workable value; the config file overrides them.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "taskfleet")

	return &Config{
		Paths: PathsConfig{
			Root:        defaultRoot,
			WorkDir:     filepath.Join(defaultRoot, "work"),
			ArtifactDir: filepath.Join(defaultRoot, "artifacts"),
			LogDir:      filepath.Join(defaultRoot, "logs"),
		},
		Intervals: IntervalsConfig{
			PollInterval:             Duration(10 * time.Second),
			ReclaimInterval:          Duration(5 * time.Minute),
			CredentialUpdateInterval: Duration(30 * time.Second),
			TaskMaxTimeout:           Duration(2 * time.Hour),
			KillGrace:                Duration(10 * time.Second),
			ArtifactExpiry:           Duration(14 * 24 * time.Hour),
			ArtifactUploadTimeout:    Duration(10 * time.Minute),
		},
	}
}

// Load loads configuration from the TASKFLEET_CONFIG environment
// variable. There are no fallbacks: if TASKFLEET_CONFIG is not set,
// this fails. Deterministic, auditable configuration with no hidden
// overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("TASKFLEET_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("TASKFLEET_CONFIG environment variable not set; " +
			"set it to the path of your taskfleet.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth; environment variables do not
// override config values. The only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"TASKFLEET_ROOT": c.Paths.Root,
		"HOME":           os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["TASKFLEET_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.WorkDir = expandVars(c.Paths.WorkDir, vars)
	c.Paths.ArtifactDir = expandVars(c.Paths.ArtifactDir, vars)
	c.Paths.LogDir = expandVars(c.Paths.LogDir, vars)
	c.StatusSocket = expandVars(c.StatusSocket, vars)
	for i, file := range c.CredentialsFiles {
		c.CredentialsFiles[i] = expandVars(file, vars)
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Queue.BaseURL == "" {
		errs = append(errs, fmt.Errorf("queue.base_url is required"))
	}
	if c.Queue.ProvisionerID == "" {
		errs = append(errs, fmt.Errorf("queue.provisioner_id is required"))
	}
	if c.Queue.WorkerType == "" {
		errs = append(errs, fmt.Errorf("queue.worker_type is required"))
	}
	if c.Queue.WorkerGroup == "" {
		errs = append(errs, fmt.Errorf("queue.worker_group is required"))
	}
	if c.Queue.WorkerID == "" {
		errs = append(errs, fmt.Errorf("queue.worker_id is required"))
	}

	if c.Paths.WorkDir == "" {
		errs = append(errs, fmt.Errorf("paths.work_dir is required"))
	}
	if c.Paths.ArtifactDir == "" {
		errs = append(errs, fmt.Errorf("paths.artifact_dir is required"))
	}
	if c.Paths.LogDir == "" {
		errs = append(errs, fmt.Errorf("paths.log_dir is required"))
	}

	if c.Intervals.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("intervals.poll_interval must be positive"))
	}
	if c.Intervals.ReclaimInterval <= 0 {
		errs = append(errs, fmt.Errorf("intervals.reclaim_interval must be positive"))
	}
	if c.Intervals.CredentialUpdateInterval <= 0 {
		errs = append(errs, fmt.Errorf("intervals.credential_update_interval must be positive"))
	}
	if c.Intervals.TaskMaxTimeout <= 0 {
		errs = append(errs, fmt.Errorf("intervals.task_max_timeout must be positive"))
	}
	if c.Intervals.KillGrace <= 0 {
		errs = append(errs, fmt.Errorf("intervals.kill_grace must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ResetRunDirs wipes the work and artifact directories and recreates
// all three run directories, so each task starts from a clean slate
// and cannot see a previous task's files.
func (c *Config) ResetRunDirs() error {
	for _, directory := range []string{c.Paths.WorkDir, c.Paths.ArtifactDir, c.Paths.LogDir} {
		if err := os.RemoveAll(directory); err != nil {
			return fmt.Errorf("removing %s: %w", directory, err)
		}
		if err := os.MkdirAll(directory, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", directory, err)
		}
	}
	return nil
}
