// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assetsync

import (
	"encoding/json"
	"fmt"
	"hash"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/compress"
	"github.com/bureau-foundation/chunksync/lib/finalize"
	"github.com/bureau-foundation/chunksync/lib/manifest"
	"github.com/bureau-foundation/chunksync/lib/retry"
	"github.com/bureau-foundation/chunksync/lib/testutil"
)

// testFile is one file published by a fixture asset.
type testFile struct {
	path      string
	content   []byte
	chunkSize int
	folder    bool
}

// testAsset is one asset of a fixture build.
type testAsset struct {
	key   string
	files []testFile

	// rawManifest, if set, is published instead of the encoded files.
	rawManifest []byte
}

// fixture is a build published on a fake CDN.
type fixture struct {
	cdn       *testutil.CDN
	algorithm checksum.Algorithm
	tag       string

	// chunkPaths maps "asset/path" to the CDN paths of its chunks.
	chunkPaths map[string][]string
}

func md5Algorithm(t *testing.T) checksum.Algorithm {
	t.Helper()
	algorithm, err := checksum.Lookup("md5")
	if err != nil {
		t.Fatal(err)
	}
	return algorithm
}

// publish encodes assets as chunks, manifests and a descriptor on cdn.
// Chunks are zstd for the first asset and LZ4 for the rest so both
// frame formats flow through the engine.
func publish(t *testing.T, cdn *testutil.CDN, algorithm checksum.Algorithm, tag string, assets ...testAsset) *fixture {
	t.Helper()
	published := &fixture{
		cdn:        cdn,
		algorithm:  algorithm,
		tag:        tag,
		chunkPaths: make(map[string][]string),
	}

	type descriptorEntry struct {
		MatchingField string `json:"matching_field"`
		Manifest      struct {
			ID               string `json:"id"`
			Checksum         string `json:"checksum"`
			UncompressedSize string `json:"uncompressed_size"`
		} `json:"manifest"`
		ManifestDownload struct {
			URLPrefix string `json:"url_prefix"`
		} `json:"manifest_download"`
		ChunkDownload struct {
			URLPrefix string `json:"url_prefix"`
		} `json:"chunk_download"`
	}
	var entries []descriptorEntry

	for assetIndex, asset := range assets {
		format := compress.FormatZstd
		if assetIndex > 0 {
			format = compress.FormatLZ4
		}
		decoded := &manifest.Manifest{}
		for _, file := range asset.files {
			if file.folder {
				decoded.Files = append(decoded.Files, manifest.FileEntry{Path: file.path, Folder: true})
				continue
			}
			entry := manifest.FileEntry{
				Path:     file.path,
				Size:     int64(len(file.content)),
				Checksum: algorithm.Sum(file.content),
			}
			size := file.chunkSize
			if size <= 0 {
				size = 64
			}
			for offset := 0; offset < len(file.content); offset += size {
				end := min(offset+size, len(file.content))
				piece := file.content[offset:end]
				id := fmt.Sprintf("%s.%d", strings.ReplaceAll(file.path, "/", "_"), offset/size)
				compressed, err := compress.Compress(piece, format)
				if err != nil {
					t.Fatal(err)
				}
				chunkPath := "chunks/" + asset.key + "/" + id
				cdn.Put(chunkPath, compressed)
				published.chunkPaths[asset.key+"/"+file.path] = append(published.chunkPaths[asset.key+"/"+file.path], chunkPath)
				entry.Chunks = append(entry.Chunks, manifest.Chunk{
					ID:               id,
					Checksum:         algorithm.Sum(piece),
					Offset:           int64(offset),
					CompressedSize:   int64(len(compressed)),
					UncompressedSize: int64(len(piece)),
				})
			}
			decoded.Files = append(decoded.Files, entry)
		}

		encoded, err := manifest.Encode(decoded)
		if err != nil {
			t.Fatal(err)
		}
		if asset.rawManifest != nil {
			encoded = asset.rawManifest
		}
		compressed, err := compress.Compress(encoded, format)
		if err != nil {
			t.Fatal(err)
		}
		manifestID := "manifest-" + asset.key
		cdn.Put("manifests/"+asset.key+"/"+manifestID, compressed)

		var entry descriptorEntry
		entry.MatchingField = asset.key
		entry.Manifest.ID = manifestID
		entry.Manifest.Checksum = algorithm.Sum(encoded)
		entry.Manifest.UncompressedSize = fmt.Sprint(len(encoded))
		entry.ManifestDownload.URLPrefix = cdn.URL("manifests/" + asset.key)
		entry.ChunkDownload.URLPrefix = cdn.URL("chunks/" + asset.key)
		entries = append(entries, entry)
	}

	body, err := json.Marshal(map[string]any{
		"retcode": 0,
		"message": "OK",
		"data": map[string]any{
			"tag":       tag,
			"manifests": entries,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	cdn.Put("build", body)
	return published
}

// failFile makes every chunk of asset/path permanently unavailable.
func (f *fixture) failFile(asset, path string) {
	for _, chunkPath := range f.chunkPaths[asset+"/"+path] {
		f.cdn.Fail(chunkPath, -1)
	}
}

// chunkRequests counts requests to every chunk of every asset.
func (f *fixture) chunkRequests() int {
	return f.cdn.RequestsWithPrefix("chunks/")
}

// newTestEngine returns an Engine against f with immediate retries.
func newTestEngine(t *testing.T, f *fixture) *Engine {
	t.Helper()
	immediate := retry.Policy{Attempts: 5}
	engine, err := New(Config{
		BuildURL:      f.cdn.URL("build"),
		Client:        f.cdn.Client(),
		BuildRetry:    immediate,
		ManifestRetry: immediate,
		ChunkRetry:    immediate,
		Algorithm:     f.algorithm,
		Channel:       finalize.Channel{Channel: 1, CPS: "mihoyo"},
		EventLevel:    slog.LevelDebug,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return engine
}

// eventLog records a session's events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) ofType(eventType EventType) []Event {
	var matched []Event
	for _, event := range l.all() {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// fixedHash is a digest that always sums to the same bytes, standing
// in for a checksum whose value a test wants to choose.
type fixedHash struct {
	sum []byte
}

func (h *fixedHash) Write(p []byte) (int, error) { return len(p), nil }
func (h *fixedHash) Sum(b []byte) []byte { return append(b, h.sum...) }
func (h *fixedHash) Reset() {}
func (h *fixedHash) Size() int { return len(h.sum) }
func (h *fixedHash) BlockSize() int { return 1 }

var _ hash.Hash = (*fixedHash)(nil)
