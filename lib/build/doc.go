// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package build resolves which manifests a sync session fetches.
//
// The build-description endpoint publishes one JSON document per
// release: a version tag and one entry per downloadable asset (the
// base game plus each language pack), each naming a manifest id, its
// checksum, and the URL prefixes of the manifest and chunk stores.
// [ParseDescriptor] decodes that document against a typed schema and
// reports a missing required field by name. [Resolver] fetches it with
// bounded retry (or reads a pinned JSONC copy from disk) and selects
// the entries a [Request] asks for.
package build
