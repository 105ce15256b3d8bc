// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds chunksync's shared CBOR configuration.
//
// CBOR is the manifest wire format: every manifest entity is a map with
// small integer keys (`cbor:"N,keyasint"`), so a field keeps its tag
// for the life of the format and a decoder built today skips keys added
// tomorrow. JSON stays the format for external HTTP descriptors and CLI
// output.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// manifest always produces the same bytes, and therefore the same
// checksum, which lib/pack relies on.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// A `cbor` tag marks a wire type that is only ever CBOR. Domain types
// that also appear in CLI --json output carry `json` tags and are
// converted to and from their wire type explicitly. Never put both tags
// on one field.
package codec
