// Copyright 2026 The Taskfleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the worker.
//
// Configuration is loaded from a single file specified by either the
// TASKFLEET_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no automatic file
// search. This ensures deterministic, auditable configuration with no
// hidden overrides.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${TASKFLEET_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Worker queue credentials live outside the config file, in a JSONC
// credentials file on a small search path (see
// [Config.ReadWorkerCredentials]), so operators rotate them by
// replacing one file without touching configuration or restarting the
// worker.
//
// This package depends only on lib/queue for the credentials type.
package config
