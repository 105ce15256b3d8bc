// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package assetsync is the chunk-based install/update engine.
//
// One [Engine.Run] call is one session: resolve the build, fetch and
// decode one manifest per requested asset, merge their file entries
// into a single work set, and let a bounded pool of workers bring each
// file up to date. A file whose install copy (or staged copy from an
// earlier, interrupted session) already has the right size and
// checksum costs no network access. Any other file is rebuilt in the
// staging directory from its chunks, in manifest order, and verified
// against its whole-file checksum. When the pool drains, the staging
// tree is merged into the install directory and the version and
// config markers are written.
//
// Failures are layered. A chunk that stays unavailable after retry,
// or a rebuilt file with the wrong checksum, fails that file only; the
// session still completes and reports the file. A build descriptor or
// manifest that cannot be fetched aborts the session. Cancelling the
// context stops workers at the next file, chunk or write boundary,
// leaves partial files where they are, and ends the session with the
// cancelled outcome rather than an error.
//
// Everything a session has to say reaches the caller as an [Event]
// on its [Observer]: log records (through [EventLogHandler]),
// throttled progress snapshots, and exactly one terminal event.
package assetsync
