// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/clock"
	"github.com/bureau-foundation/chunksync/lib/compress"
	"github.com/bureau-foundation/chunksync/lib/manifest"
	"github.com/bureau-foundation/chunksync/lib/netutil"
	"github.com/bureau-foundation/chunksync/lib/retry"
)

// ErrChunkUnavailable is wrapped by every chunk fetch that exhausted
// its retry policy.
var ErrChunkUnavailable = errors.New("chunk unavailable")

// ChunkConfig configures a ChunkFetcher.
type ChunkConfig struct {
	Client *http.Client
	Retry  retry.Policy
	Clock  clock.Clock
	Logger *slog.Logger

	// VerifyChunks checks each decompressed chunk against its declared
	// checksum using Algorithm. A mismatch is a failed attempt.
	VerifyChunks bool
	Algorithm    checksum.Algorithm
}

// ChunkFetcher downloads individual chunks. It is safe for concurrent
// use by every worker of a session.
type ChunkFetcher struct {
	client       *http.Client
	retry        retry.Policy
	clock        clock.Clock
	logger       *slog.Logger
	verifyChunks bool
	algorithm    checksum.Algorithm

	attempts atomic.Int64
	fetched  atomic.Int64
}

// NewChunkFetcher validates config and returns a ChunkFetcher.
func NewChunkFetcher(config ChunkConfig) (*ChunkFetcher, error) {
	if err := config.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("chunk fetcher: retry: %w", err)
	}
	if config.VerifyChunks && config.Algorithm.New == nil {
		return nil, errors.New("chunk fetcher: VerifyChunks requires an Algorithm")
	}
	fetcher := &ChunkFetcher{
		client:       config.Client,
		retry:        config.Retry,
		clock:        config.Clock,
		logger:       config.Logger,
		verifyChunks: config.VerifyChunks,
		algorithm:    config.Algorithm,
	}
	if fetcher.client == nil {
		fetcher.client = netutil.NewClient(0, "")
	}
	if fetcher.clock == nil {
		fetcher.clock = clock.Real()
	}
	if fetcher.logger == nil {
		fetcher.logger = slog.New(slog.DiscardHandler)
	}
	return fetcher, nil
}

// Fetch downloads chunk from prefix and returns its decompressed
// bytes. A cancelled context returns the context's error unwrapped.
func (f *ChunkFetcher) Fetch(ctx context.Context, prefix string, chunk manifest.Chunk) ([]byte, error) {
	location, err := url.JoinPath(prefix, chunk.ID)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", chunk.ID, err)
	}

	var data []byte
	err = f.retry.Do(ctx, f.clock, func(attempt int) error {
		f.attempts.Add(1)
		var err error
		data, err = f.fetchOnce(ctx, location, chunk)
		return err
	}, func(attempt int, err error) {
		f.logger.Debug("chunk fetch attempt failed",
			"chunk", chunk.ID,
			"attempt", attempt,
			"max_attempts", f.retry.Attempts,
			"error", err,
		)
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrChunkUnavailable, chunk.ID, err)
	}
	f.fetched.Add(1)
	return data, nil
}

func (f *ChunkFetcher) fetchOnce(ctx context.Context, location string, chunk manifest.Chunk) ([]byte, error) {
	raw, err := netutil.Get(ctx, f.client, location, netutil.BlobLimit(chunk.CompressedSize))
	if err != nil {
		return nil, err
	}
	data, err := compress.Decompress(bytes.NewReader(raw), chunk.UncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("decompressing chunk: %w", err)
	}
	if int64(len(data)) != chunk.UncompressedSize {
		return nil, fmt.Errorf("decompressed chunk is %d bytes, declared %d", len(data), chunk.UncompressedSize)
	}
	if f.verifyChunks {
		if digest := f.algorithm.Sum(data); !checksum.Equal(digest, chunk.Checksum) {
			return nil, fmt.Errorf("chunk checksum %s does not match declared %s", digest, chunk.Checksum)
		}
	}
	return data, nil
}

// Attempts returns the number of HTTP attempts made so far.
func (f *ChunkFetcher) Attempts() int64 {
	return f.attempts.Load()
}

// Fetched returns the number of chunks successfully fetched so far.
func (f *ChunkFetcher) Fetched() int64 {
	return f.fetched.Load()
}
