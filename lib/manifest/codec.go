// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"

	"github.com/bureau-foundation/chunksync/lib/codec"
)

// Wire types. Pointers distinguish "absent" from "zero" so that Decode
// can report missing mandatory fields; a zero-length file is legal,
// a file with no declared size is not.

type wireManifest struct {
	Files []wireFile `cbor:"1,keyasint"`
}

type wireFile struct {
	Path     *string      `cbor:"1,keyasint"`
	Chunks   *[]wireChunk `cbor:"2,keyasint"`
	Folder   bool         `cbor:"3,keyasint,omitempty"`
	Size     *int64       `cbor:"4,keyasint"`
	Checksum *string      `cbor:"5,keyasint"`
}

type wireChunk struct {
	ID               string `cbor:"1,keyasint"`
	Checksum         string `cbor:"2,keyasint,omitempty"`
	Offset           int64  `cbor:"3,keyasint"`
	CompressedSize   int64  `cbor:"4,keyasint"`
	UncompressedSize int64  `cbor:"5,keyasint"`
}

// DecodeError reports a manifest that could not be decoded or failed
// validation. It is fatal for the asset the manifest describes and for
// nothing else.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decoding manifest: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode parses decompressed manifest bytes and validates the result.
func Decode(data []byte) (*Manifest, error) {
	var wire wireManifest
	if err := codec.Unmarshal(data, &wire); err != nil {
		return nil, &DecodeError{Err: err}
	}

	result := &Manifest{Files: make([]FileEntry, 0, len(wire.Files))}
	for index, file := range wire.Files {
		entry, err := file.entry()
		if err != nil {
			return nil, &DecodeError{Err: fmt.Errorf("file %d: %w", index, err)}
		}
		result.Files = append(result.Files, entry)
	}

	if err := result.Validate(); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return result, nil
}

func (file wireFile) entry() (FileEntry, error) {
	if file.Path == nil {
		return FileEntry{}, fmt.Errorf("missing path")
	}
	entry := FileEntry{
		Path:   Normalize(*file.Path),
		Folder: file.Folder,
	}
	if err := ValidatePath(*file.Path); err != nil {
		return FileEntry{}, err
	}
	if file.Folder {
		return entry, nil
	}

	switch {
	case file.Size == nil:
		return FileEntry{}, fmt.Errorf("%s: missing size", entry.Path)
	case file.Checksum == nil:
		return FileEntry{}, fmt.Errorf("%s: missing checksum", entry.Path)
	case file.Chunks == nil:
		return FileEntry{}, fmt.Errorf("%s: missing chunk list", entry.Path)
	}
	entry.Size = *file.Size
	entry.Checksum = *file.Checksum

	entry.Chunks = make([]Chunk, len(*file.Chunks))
	for index, chunk := range *file.Chunks {
		entry.Chunks[index] = Chunk(chunk)
	}
	return entry, nil
}

// Encode serializes a manifest. The output is deterministic: the same
// manifest always encodes to the same bytes.
func Encode(m *Manifest) ([]byte, error) {
	wire := wireManifest{Files: make([]wireFile, len(m.Files))}
	for index := range m.Files {
		file := &m.Files[index]
		wireEntry := wireFile{
			Path:   &file.Path,
			Folder: file.Folder,
		}
		if !file.Folder {
			chunks := make([]wireChunk, len(file.Chunks))
			for chunkIndex, chunk := range file.Chunks {
				chunks[chunkIndex] = wireChunk(chunk)
			}
			wireEntry.Chunks = &chunks
			wireEntry.Size = &file.Size
			wireEntry.Checksum = &file.Checksum
		}
		wire.Files[index] = wireEntry
	}

	data, err := codec.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}
