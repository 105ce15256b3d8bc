// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package checksum computes and compares the hex digests that manifests
// and build descriptors declare for files, chunks and manifest blobs.
//
// The digest algorithm is a property of the content source, not of the
// data, so it is selected once per session by name ("md5", "sha256",
// "blake3") and threaded through every component that verifies bytes.
// Comparison is always case-insensitive: descriptors in the wild mix
// upper- and lower-case hex.
package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

// Algorithm is a named digest constructor.
type Algorithm struct {
	Name string
	New  func() hash.Hash
}

// DefaultAlgorithm is the digest used when configuration names none.
// The upstream CDN declares 32-character MD5 digests.
const DefaultAlgorithm = "md5"

var (
	registryMu sync.RWMutex
	registry   = map[string]Algorithm{
		"md5":    {Name: "md5", New: md5.New},
		"sha256": {Name: "sha256", New: sha256.New},
		"blake3": {Name: "blake3", New: func() hash.Hash { return blake3.New() }},
	}
)

// Register adds or replaces an algorithm. Intended for tests and for
// mirrors with their own digest scheme.
func Register(algorithm Algorithm) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[algorithm.Name] = algorithm
}

// Lookup returns the algorithm registered under name.
func Lookup(name string) (Algorithm, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	algorithm, ok := registry[name]
	if !ok {
		return Algorithm{}, fmt.Errorf("unknown checksum algorithm %q (known: %s)",
			name, strings.Join(namesLocked(), ", "))
	}
	return algorithm, nil
}

// Names returns the registered algorithm names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sum returns the lower-case hex digest of data.
func (algorithm Algorithm) Sum(data []byte) string {
	hasher := algorithm.New()
	hasher.Write(data)
	return hex.EncodeToString(hasher.Sum(nil))
}

// SumReader streams r through the digest and returns the lower-case
// hex digest and the number of bytes read.
func (algorithm Algorithm) SumReader(r io.Reader) (string, int64, error) {
	hasher := algorithm.New()
	n, err := io.Copy(hasher, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), n, nil
}

// SumFile streams the file at path through the digest. Memory use is
// constant regardless of file size.
func (algorithm Algorithm) SumFile(path string) (string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	digest, n, err := algorithm.SumReader(file)
	if err != nil {
		return "", n, fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, n, nil
}

// Equal compares two hex digests case-insensitively. Empty digests
// never match.
func Equal(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// MatchFile reports whether the file at path exists, is exactly size
// bytes long, and hashes to want. The size check runs first so that
// obviously stale files are rejected without reading them. A missing
// file is a mismatch, not an error.
func (algorithm Algorithm) MatchFile(path string, size int64, want string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() || info.Size() != size {
		return false, nil
	}

	digest, _, err := algorithm.SumFile(path)
	if err != nil {
		return false, err
	}
	return Equal(digest, want), nil
}
