// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assetsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/manifest"
	"github.com/bureau-foundation/chunksync/lib/progress"
)

// chunkSource fetches one decompressed chunk. *fetch.ChunkFetcher
// implements it.
type chunkSource interface {
	Fetch(ctx context.Context, prefix string, chunk manifest.Chunk) ([]byte, error)
}

// fileStatus is the outcome of synchronizing one file.
type fileStatus int

const (
	// statusInstalled: the install tree already holds the file.
	statusInstalled fileStatus = iota

	// statusStaged: staging holds a verified copy from an earlier
	// session.
	statusStaged

	// statusDownloaded: the file was rebuilt from its chunks.
	statusDownloaded

	// statusFailed: the file could not be brought up to date.
	statusFailed
)

func (status fileStatus) String() string {
	switch status {
	case statusInstalled:
		return "installed"
	case statusStaged:
		return "staged"
	case statusDownloaded:
		return "downloaded"
	default:
		return "failed"
	}
}

// fileSynchronizer brings single files up to date. One instance is
// shared by every worker of a session; it holds no per-file state.
type fileSynchronizer struct {
	installPath string
	stagingPath string
	algorithm   checksum.Algorithm
	chunks      chunkSource
	progress    *progress.Aggregator
	logger      *slog.Logger

	// verifyOnly reports missing or stale files as failed instead of
	// downloading them.
	verifyOnly bool
}

// sync processes item. The returned error is non-nil only when ctx
// was cancelled; every other problem is a statusFailed result.
func (s *fileSynchronizer) sync(ctx context.Context, item workItem) (fileStatus, error) {
	if err := ctx.Err(); err != nil {
		return statusFailed, err
	}
	entry := item.entry
	relative := filepath.FromSlash(entry.Path)
	installed := filepath.Join(s.installPath, relative)
	staged := filepath.Join(s.stagingPath, relative)

	if withinStaging(s.stagingPath, installed) {
		s.logger.Warn("file lies inside the staging directory, skipping",
			"path", entry.Path,
			"asset", item.asset,
			"staging", s.stagingPath,
		)
		return statusFailed, nil
	}
	if s.matches(installed, entry) {
		s.progress.AddBytes(entry.Size)
		return statusInstalled, nil
	}
	if s.matches(staged, entry) {
		s.progress.AddBytes(entry.Size)
		return statusStaged, nil
	}
	if s.verifyOnly {
		s.logger.Warn("file needs repair", "path", entry.Path, "asset", item.asset)
		return statusFailed, nil
	}

	if err := s.assemble(ctx, item, staged); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return statusFailed, ctxErr
		}
		s.logger.Warn("file failed",
			"path", entry.Path,
			"asset", item.asset,
			"error", err,
		)
		return statusFailed, nil
	}
	return statusDownloaded, nil
}

// withinStaging reports whether path is the staging directory or lies
// beneath it. Finalize removes the staging directory, so nothing can
// be installed there.
func withinStaging(stagingPath, path string) bool {
	relative, err := filepath.Rel(stagingPath, path)
	if err != nil {
		return false
	}
	return filepath.IsLocal(relative) || relative == "."
}

// matches reports whether path holds exactly entry's content. Read
// errors count as a mismatch.
func (s *fileSynchronizer) matches(path string, entry manifest.FileEntry) bool {
	ok, err := s.algorithm.MatchFile(path, entry.Size, entry.Checksum)
	if err != nil {
		s.logger.Debug("checking existing file", "path", path, "error", err)
		return false
	}
	return ok
}

// assemble rebuilds entry at destination from its chunks. On failure
// the destination is removed, except when ctx was cancelled: partial
// files stay on disk and are re-verified by the next session.
func (s *fileSynchronizer) assemble(ctx context.Context, item workItem, destination string) error {
	entry := item.entry

	if err := os.Remove(destination); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	file, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}

	discard := func(cause error) error {
		file.Close()
		if ctx.Err() == nil {
			os.Remove(destination)
		}
		return cause
	}

	for index, chunk := range entry.Chunks {
		if err := ctx.Err(); err != nil {
			return discard(err)
		}
		data, err := s.chunks.Fetch(ctx, item.chunkURLPrefix, chunk)
		if err != nil {
			return discard(fmt.Errorf("chunk %d of %d (%s): %w", index+1, len(entry.Chunks), chunk.ID, err))
		}
		if err := ctx.Err(); err != nil {
			return discard(err)
		}
		if _, err := file.Write(data); err != nil {
			return discard(fmt.Errorf("writing chunk %s: %w", chunk.ID, err))
		}
		s.progress.AddBytes(int64(len(data)))
	}

	if err := file.Close(); err != nil {
		os.Remove(destination)
		return fmt.Errorf("closing output file: %w", err)
	}

	digest, _, err := s.algorithm.SumFile(destination)
	if err != nil {
		os.Remove(destination)
		return err
	}
	if !checksum.Equal(digest, entry.Checksum) {
		os.Remove(destination)
		return fmt.Errorf("checksum %s does not match declared %s", digest, entry.Checksum)
	}
	return nil
}
