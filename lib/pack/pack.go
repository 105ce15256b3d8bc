// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pack publishes local directory trees as a chunked build:
// content-addressed compressed chunks, one compressed manifest per
// asset, and the build descriptor that points at them. The output is
// exactly what a sync session consumes, so a mirror (or a test) can
// serve it from any static file server.
//
// Layout under the sink root:
//
//	chunks/<asset>/<chunk id>
//	manifests/<asset>/<manifest id>
//	build.json
package pack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/chunksync/lib/build"
	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/compress"
	"github.com/bureau-foundation/chunksync/lib/manifest"
)

// DefaultChunkSize is the uncompressed size of every chunk but a
// file's last: 1 MiB.
const DefaultChunkSize int64 = 1 << 20

// DescriptorName is the descriptor's path under the sink root.
const DescriptorName = "build.json"

// Sink stores published objects by slash-separated path.
type Sink interface {
	Put(path string, data []byte) error
}

// DirSink writes objects as files under Root.
type DirSink struct {
	Root string
}

// Put writes data to Root/path, creating parent directories.
func (sink DirSink) Put(path string, data []byte) error {
	destination := filepath.Join(sink.Root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}
	temporaryPath := destination + ".tmp"
	if err := os.WriteFile(temporaryPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(temporaryPath, destination); err != nil {
		os.Remove(temporaryPath)
		return err
	}
	return nil
}

// Asset is one directory to publish under a descriptor key.
type Asset struct {
	Key    string
	Source string
}

// Options configures a Pack call.
type Options struct {
	Tag    string
	Assets []Asset

	// BaseURL is where the sink root will be served from; descriptor
	// prefixes are built from it.
	BaseURL string

	// ChunkSize defaults to DefaultChunkSize.
	ChunkSize int64

	// Format defaults to zstd.
	Format compress.Format

	Algorithm checksum.Algorithm
	Logger    *slog.Logger
}

// AssetResult describes one published asset.
type AssetResult struct {
	Ref      build.AssetManifestRef
	Manifest *manifest.Manifest

	// Chunks counts chunk references; UniqueChunks counts the objects
	// actually stored after deduplication.
	Chunks       int
	UniqueChunks int
}

// Result describes a Pack call.
type Result struct {
	Descriptor *build.Descriptor
	Assets     []AssetResult
}

// Pack publishes every asset in options to sink and writes the
// descriptor last, so a reader never sees a descriptor whose objects
// are missing.
func Pack(ctx context.Context, options Options, sink Sink) (*Result, error) {
	if options.Tag == "" {
		return nil, errors.New("pack: Tag is required")
	}
	if len(options.Assets) == 0 {
		return nil, errors.New("pack: no assets")
	}
	if options.Algorithm.New == nil {
		return nil, errors.New("pack: Algorithm is required")
	}
	if options.ChunkSize <= 0 {
		options.ChunkSize = DefaultChunkSize
	}
	if options.Format == 0 {
		options.Format = compress.FormatZstd
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	result := &Result{Descriptor: &build.Descriptor{Tag: options.Tag}}
	seenKeys := make(map[string]bool)
	for _, asset := range options.Assets {
		if asset.Key == "" || strings.ContainsAny(asset.Key, "/\\") {
			return nil, fmt.Errorf("pack: invalid asset key %q", asset.Key)
		}
		if seenKeys[asset.Key] {
			return nil, fmt.Errorf("pack: asset %q listed twice", asset.Key)
		}
		seenKeys[asset.Key] = true

		packed, err := packAsset(ctx, options, asset, sink)
		if err != nil {
			return nil, fmt.Errorf("pack: asset %s: %w", asset.Key, err)
		}
		result.Assets = append(result.Assets, *packed)
		result.Descriptor.Manifests = append(result.Descriptor.Manifests, packed.Ref)
		options.Logger.Info("asset packed",
			"asset", asset.Key,
			"files", packed.Manifest.FileCount(),
			"bytes", packed.Manifest.TotalSize(),
			"chunks", packed.Chunks,
			"unique_chunks", packed.UniqueChunks,
		)
	}

	data, err := result.Descriptor.Marshal()
	if err != nil {
		return nil, fmt.Errorf("pack: encoding descriptor: %w", err)
	}
	if err := sink.Put(DescriptorName, data); err != nil {
		return nil, fmt.Errorf("pack: writing descriptor: %w", err)
	}
	return result, nil
}

func packAsset(ctx context.Context, options Options, asset Asset, sink Sink) (*AssetResult, error) {
	packed := &AssetResult{Manifest: &manifest.Manifest{}}
	stored := make(map[string]bool)
	chunkRoot := "chunks/" + asset.Key

	err := filepath.WalkDir(asset.Source, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		relative, err := filepath.Rel(asset.Source, path)
		if err != nil {
			return err
		}
		if relative == "." {
			return nil
		}
		name := filepath.ToSlash(relative)

		if entry.IsDir() {
			empty, err := isEmptyDir(path)
			if err != nil {
				return err
			}
			if empty {
				packed.Manifest.Files = append(packed.Manifest.Files, manifest.FileEntry{Path: name, Folder: true})
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			options.Logger.Warn("skipping non-regular file", "path", name)
			return nil
		}

		fileEntry, err := packFile(path, name, options, func(id string, data []byte) error {
			packed.Chunks++
			if stored[id] {
				return nil
			}
			stored[id] = true
			packed.UniqueChunks++
			return sink.Put(chunkRoot+"/"+id, data)
		})
		if err != nil {
			return err
		}
		packed.Manifest.Files = append(packed.Manifest.Files, *fileEntry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := packed.Manifest.Validate(); err != nil {
		return nil, err
	}

	encoded, err := manifest.Encode(packed.Manifest)
	if err != nil {
		return nil, err
	}
	compressed, err := compress.Compress(encoded, options.Format)
	if err != nil {
		return nil, err
	}
	manifestChecksum := options.Algorithm.Sum(encoded)
	manifestID := "manifest_" + asset.Key + "_" + manifestChecksum
	if err := sink.Put("manifests/"+asset.Key+"/"+manifestID, compressed); err != nil {
		return nil, err
	}

	manifestPrefix, err := url.JoinPath(options.BaseURL, "manifests", asset.Key)
	if err != nil {
		return nil, err
	}
	chunkPrefix, err := url.JoinPath(options.BaseURL, "chunks", asset.Key)
	if err != nil {
		return nil, err
	}
	packed.Ref = build.AssetManifestRef{
		Key:               asset.Key,
		ManifestID:        manifestID,
		ManifestChecksum:  manifestChecksum,
		ManifestSize:      int64(len(encoded)),
		ManifestURLPrefix: manifestPrefix,
		ChunkURLPrefix:    chunkPrefix,
	}
	return packed, nil
}

// packFile splits one file into chunks, handing each compressed chunk
// to put, and returns its manifest entry. The file is read once.
func packFile(path, name string, options Options, put func(id string, data []byte) error) (*manifest.FileEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entry := &manifest.FileEntry{Path: name}
	whole := options.Algorithm.New()
	buffer := make([]byte, options.ChunkSize)
	for {
		n, err := io.ReadFull(file, buffer)
		if n > 0 {
			piece := buffer[:n]
			whole.Write(piece)
			digest := options.Algorithm.Sum(piece)
			compressed, compressErr := compress.Compress(piece, options.Format)
			if compressErr != nil {
				return nil, fmt.Errorf("%s: %w", name, compressErr)
			}
			id := fmt.Sprintf("%s_%d", digest, n)
			if putErr := put(id, compressed); putErr != nil {
				return nil, fmt.Errorf("%s: %w", name, putErr)
			}
			entry.Chunks = append(entry.Chunks, manifest.Chunk{
				ID:               id,
				Checksum:         digest,
				Offset:           entry.Size,
				CompressedSize:   int64(len(compressed)),
				UncompressedSize: int64(n),
			})
			entry.Size += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
	}
	entry.Checksum = fmt.Sprintf("%x", whole.Sum(nil))
	return entry, nil
}

func isEmptyDir(path string) (bool, error) {
	directory, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer directory.Close()
	_, err = directory.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}
