// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"path"
	"strings"
)

// Manifest is the decoded file tree of one asset.
type Manifest struct {
	Files []FileEntry `json:"files"`
}

// FileEntry is one path in the install tree.
type FileEntry struct {
	// Path is slash-separated and relative to the install root.
	Path string `json:"path"`

	// Folder entries carry no content; they only ensure the directory
	// exists.
	Folder bool `json:"folder,omitempty"`

	// Size is the length of the reconstructed file in bytes.
	Size int64 `json:"size"`

	// Checksum is the hex digest of the whole reconstructed file.
	Checksum string `json:"checksum"`

	Chunks []Chunk `json:"chunks,omitempty"`
}

// Chunk is a content-addressed slice of a file.
type Chunk struct {
	// ID is appended to the asset's chunk URL prefix to fetch the
	// compressed blob.
	ID string `json:"id"`

	// Checksum is the hex digest of the decompressed chunk bytes. Only
	// checked when per-chunk verification is enabled.
	Checksum string `json:"checksum,omitempty"`

	Offset           int64 `json:"offset"`
	CompressedSize   int64 `json:"compressed_size"`
	UncompressedSize int64 `json:"uncompressed_size"`
}

// TotalSize returns the sum of all non-folder entry sizes.
func (m *Manifest) TotalSize() int64 {
	var total int64
	for _, file := range m.Files {
		if !file.Folder {
			total += file.Size
		}
	}
	return total
}

// FileCount returns the number of non-folder entries.
func (m *Manifest) FileCount() int {
	count := 0
	for _, file := range m.Files {
		if !file.Folder {
			count++
		}
	}
	return count
}

// Validate checks every entry. The returned error names the first
// offending entry.
func (m *Manifest) Validate() error {
	for index := range m.Files {
		if err := m.Files[index].Validate(); err != nil {
			return fmt.Errorf("file %d: %w", index, err)
		}
	}
	return nil
}

// Validate checks the structural invariants of a file entry: a safe
// relative path, chunk offsets that start at zero and are contiguous,
// and chunk sizes that sum to the file size.
func (f *FileEntry) Validate() error {
	if err := ValidatePath(f.Path); err != nil {
		return err
	}
	if f.Folder {
		return nil
	}
	if f.Size < 0 {
		return fmt.Errorf("%s: negative size %d", f.Path, f.Size)
	}
	if strings.TrimSpace(f.Checksum) == "" {
		return fmt.Errorf("%s: empty checksum", f.Path)
	}

	var next int64
	for index, chunk := range f.Chunks {
		if chunk.ID == "" {
			return fmt.Errorf("%s: chunk %d: empty id", f.Path, index)
		}
		if chunk.UncompressedSize <= 0 {
			return fmt.Errorf("%s: chunk %d: uncompressed size %d is not positive",
				f.Path, index, chunk.UncompressedSize)
		}
		if chunk.Offset != next {
			return fmt.Errorf("%s: chunk %d: offset %d, want %d (chunks must be contiguous)",
				f.Path, index, chunk.Offset, next)
		}
		next += chunk.UncompressedSize
	}
	if next != f.Size {
		return fmt.Errorf("%s: chunk sizes sum to %d, file size is %d", f.Path, next, f.Size)
	}
	return nil
}

// ValidatePath rejects paths that are empty, absolute, or escape the
// install root once cleaned.
func ValidatePath(name string) error {
	if name == "" {
		return fmt.Errorf("empty path")
	}
	slashed := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(slashed, "/") || (len(slashed) > 1 && slashed[1] == ':') {
		return fmt.Errorf("%s: absolute path", name)
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("%s: path escapes the install root", name)
	}
	return nil
}

// Normalize returns the cleaned slash-separated form of a validated
// path. Manifests produced on Windows use backslashes.
func Normalize(name string) string {
	return path.Clean(strings.ReplaceAll(name, "\\", "/"))
}
