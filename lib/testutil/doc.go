// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for chunksync packages.
//
// [CDN] is an in-process HTTP server standing in for the build
// endpoint and the manifest and chunk stores. Tests publish raw bytes
// at paths, read per-path request counts afterwards, and inject
// failures with [CDN.Fail] to exercise retry and soft-failure paths.
// CDN serves bytes verbatim; compressing and encoding payloads is the
// caller's job, which keeps this package free of chunksync imports so
// any package's internal tests can use it.
//
// [RequireReceive] bounds every wait on a channel so a hung goroutine
// fails the test instead of stalling it.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
