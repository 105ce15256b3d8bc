// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fetch downloads and decompresses the two kinds of CDN blob a
// sync session reads: manifests and chunks.
//
// Both fetchers run every attempt through a [retry.Policy]. A chunk
// fetch that exhausts its policy returns an error wrapping
// [ErrChunkUnavailable]; the file synchronizer turns that into a
// per-file failure. A manifest fetch re-validates the whole-blob
// checksum on every attempt and a mismatch is retried like a network
// failure; exhaustion wraps [ErrManifestUnavailable] and ends the
// session.
//
// Chunks carry a declared checksum. [ChunkFetcher] validates it only
// when VerifyChunks is set; by default only the reconstructed file is
// checked.
package fetch
