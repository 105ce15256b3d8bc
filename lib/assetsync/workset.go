// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assetsync

import (
	"log/slog"

	"github.com/bureau-foundation/chunksync/lib/manifest"
)

// workItem is one file to bring up to date, with the chunk store of
// the asset that declared it.
type workItem struct {
	asset          string
	chunkURLPrefix string
	entry          manifest.FileEntry
}

// assetManifest is one decoded manifest and where its chunks live.
type assetManifest struct {
	asset          string
	game           bool
	chunkURLPrefix string
	manifest       *manifest.Manifest
}

// workSet is the merged, deduplicated content of every decoded
// manifest.
type workSet struct {
	files   []workItem
	folders []string

	totalBytes int64
}

// buildWorkSet concatenates the entries of manifests in order. A path
// declared twice is queued once, for the first asset that declared
// it, so no two workers ever write the same destination.
func buildWorkSet(manifests []assetManifest, logger *slog.Logger) *workSet {
	set := &workSet{}
	seenFiles := make(map[string]string)
	seenFolders := make(map[string]bool)

	for _, asset := range manifests {
		for _, entry := range asset.manifest.Files {
			path := manifest.Normalize(entry.Path)
			if entry.Folder {
				if !seenFolders[path] {
					seenFolders[path] = true
					set.folders = append(set.folders, path)
				}
				continue
			}
			if owner, duplicate := seenFiles[path]; duplicate {
				logger.Warn("file declared more than once, keeping the first",
					"path", path,
					"kept", owner,
					"ignored", asset.asset,
				)
				continue
			}
			seenFiles[path] = asset.asset

			entry.Path = path
			set.files = append(set.files, workItem{
				asset:          asset.asset,
				chunkURLPrefix: asset.chunkURLPrefix,
				entry:          entry,
			})
			set.totalBytes += entry.Size
		}
	}
	return set
}
