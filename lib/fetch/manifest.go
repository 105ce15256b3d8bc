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

	"github.com/bureau-foundation/chunksync/lib/build"
	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/clock"
	"github.com/bureau-foundation/chunksync/lib/compress"
	"github.com/bureau-foundation/chunksync/lib/netutil"
	"github.com/bureau-foundation/chunksync/lib/retry"
)

// ErrManifestUnavailable is wrapped by every manifest fetch that
// exhausted its retry policy.
var ErrManifestUnavailable = errors.New("manifest unavailable")

// MaxManifestSize bounds the decompressed size of a manifest whose
// reference does not declare one: 1 GB.
const MaxManifestSize int64 = 1 << 30

// ChecksumMismatchError is the failure of one manifest attempt whose
// decompressed bytes did not hash to the declared checksum.
type ChecksumMismatchError struct {
	ManifestID string
	Want       string
	Got        string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("manifest %s: checksum %s does not match declared %s", e.ManifestID, e.Got, e.Want)
}

// ManifestConfig configures a ManifestFetcher.
type ManifestConfig struct {
	Client    *http.Client
	Retry     retry.Policy
	Clock     clock.Clock
	Logger    *slog.Logger
	Algorithm checksum.Algorithm
}

// ManifestFetcher downloads and verifies manifest blobs.
type ManifestFetcher struct {
	client    *http.Client
	retry     retry.Policy
	clock     clock.Clock
	logger    *slog.Logger
	algorithm checksum.Algorithm
}

// NewManifestFetcher validates config and returns a ManifestFetcher.
func NewManifestFetcher(config ManifestConfig) (*ManifestFetcher, error) {
	if err := config.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("manifest fetcher: retry: %w", err)
	}
	if config.Algorithm.New == nil {
		return nil, errors.New("manifest fetcher: Algorithm is required")
	}
	fetcher := &ManifestFetcher{
		client:    config.Client,
		retry:     config.Retry,
		clock:     config.Clock,
		logger:    config.Logger,
		algorithm: config.Algorithm,
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

// Fetch downloads the manifest ref names and returns its decompressed,
// checksum-verified bytes. Each attempt repeats the download, the
// decompression and the checksum.
func (f *ManifestFetcher) Fetch(ctx context.Context, ref build.AssetManifestRef) ([]byte, error) {
	location, err := url.JoinPath(ref.ManifestURLPrefix, ref.ManifestID)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", ref.ManifestID, err)
	}
	limit := MaxManifestSize
	if ref.ManifestSize > 0 {
		limit = ref.ManifestSize
	}

	var data []byte
	err = f.retry.Do(ctx, f.clock, func(attempt int) error {
		raw, err := netutil.Get(ctx, f.client, location, netutil.BlobLimit(ref.ManifestSize))
		if err != nil {
			return err
		}
		decompressed, err := compress.Decompress(bytes.NewReader(raw), limit)
		if err != nil {
			return fmt.Errorf("decompressing manifest: %w", err)
		}
		if digest := f.algorithm.Sum(decompressed); !checksum.Equal(digest, ref.ManifestChecksum) {
			return &ChecksumMismatchError{ManifestID: ref.ManifestID, Want: ref.ManifestChecksum, Got: digest}
		}
		data = decompressed
		return nil
	}, func(attempt int, err error) {
		f.logger.Warn("manifest fetch attempt failed",
			"asset", ref.Key,
			"manifest", ref.ManifestID,
			"attempt", attempt,
			"max_attempts", f.retry.Attempts,
			"error", err,
		)
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s (%s): %w", ErrManifestUnavailable, ref.Key, ref.ManifestID, err)
	}
	return data, nil
}
