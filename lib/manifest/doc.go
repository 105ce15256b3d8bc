// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the file tree of one install asset and its
// binary encoding.
//
// A [Manifest] lists [FileEntry] values; each non-folder entry is
// reconstructed by concatenating the decompressed bytes of its
// [Chunk] values in declared order. The encoding is CBOR with integer
// map keys (see lib/codec): unknown keys are skipped, but the fields
// identifying a file (path, size, checksum) and its chunk list are
// mandatory and [Decode] reports their absence.
//
// Decoded manifests are immutable. The sync engine shares them between
// workers without copying; nothing may modify a Manifest after Decode
// returns it.
package manifest
