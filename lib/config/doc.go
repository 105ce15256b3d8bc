// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for chunksync.
//
// Configuration is loaded from a single file specified by either the
// CHUNKSYNC_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search. A command run without
// either uses [Default] plus its flags.
//
// Variable expansion is performed on path and URL fields after
// loading: ${HOME}, ${CHUNKSYNC_INSTALL} (the configured install
// path), and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Build, Assets, Install, Channel, Transfer
//   - [Default] -- returns a Config with the stock transfer policy
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every problem at once
//
// This package depends only on lib/retry and lib/checksum.
package config
