// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Chunksync installs and updates a game build from a chunked CDN.
//
// Commands:
//
//	chunksync sync               install or update the configured assets
//	chunksync verify             check an installation without downloading
//	chunksync manifest inspect   decode and print a manifest blob
//	chunksync pack               publish directories as a chunked build
//
// sync and verify read a YAML config from --config or CHUNKSYNC_CONFIG.
// Exit status: 0 when every file is in place, 2 when some files could
// not be synchronized (or, for verify, need repair), 130 when
// interrupted, 1 on any other failure.
package main
