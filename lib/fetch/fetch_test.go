// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fetch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/chunksync/lib/build"
	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/clock"
	"github.com/bureau-foundation/chunksync/lib/compress"
	"github.com/bureau-foundation/chunksync/lib/manifest"
	"github.com/bureau-foundation/chunksync/lib/retry"
	"github.com/bureau-foundation/chunksync/lib/testutil"
)

var (
	chunkPolicy    = retry.Policy{Attempts: 5, Delay: time.Second}
	manifestPolicy = retry.Policy{Attempts: 5, Delay: 2 * time.Second}
)

func mustCompress(t *testing.T, data []byte, format compress.Format) []byte {
	t.Helper()
	compressed, err := compress.Compress(data, format)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	return compressed
}

func md5Algorithm(t *testing.T) checksum.Algorithm {
	t.Helper()
	algorithm, err := checksum.Lookup("md5")
	if err != nil {
		t.Fatal(err)
	}
	return algorithm
}

// advanceThrough drives the fake clock through count retry pauses of
// delay each.
func advanceThrough(fake *clock.FakeClock, count int, delay time.Duration) {
	for range count {
		fake.WaitForTimers(1)
		fake.Advance(delay)
	}
}

func newChunkFetcher(t *testing.T, cdn *testutil.CDN, clk clock.Clock, verify bool) *ChunkFetcher {
	t.Helper()
	fetcher, err := NewChunkFetcher(ChunkConfig{
		Client:       cdn.Client(),
		Retry:        chunkPolicy,
		Clock:        clk,
		VerifyChunks: verify,
		Algorithm:    md5Algorithm(t),
	})
	if err != nil {
		t.Fatalf("NewChunkFetcher: %v", err)
	}
	return fetcher
}

func TestChunkFetchDecompresses(t *testing.T) {
	payload := bytes.Repeat([]byte("chunk-data-"), 50)
	for _, format := range []compress.Format{compress.FormatZstd, compress.FormatLZ4} {
		t.Run(format.String(), func(t *testing.T) {
			cdn := testutil.NewCDN(t)
			cdn.Put("chunks/c1", mustCompress(t, payload, format))
			fetcher := newChunkFetcher(t, cdn, clock.Real(), false)

			chunk := manifest.Chunk{ID: "c1", UncompressedSize: int64(len(payload))}
			data, err := fetcher.Fetch(context.Background(), cdn.URL("chunks"), chunk)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if !bytes.Equal(data, payload) {
				t.Error("decompressed chunk differs from the published payload")
			}
			if fetcher.Fetched() != 1 || fetcher.Attempts() != 1 {
				t.Errorf("Fetched/Attempts = %d/%d, want 1/1", fetcher.Fetched(), fetcher.Attempts())
			}
		})
	}
}

func TestChunkFetchAttemptsExactlyFiveTimes(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Fail("chunks/dead", -1)
	fake := clock.Fake(time.Unix(0, 0))
	fetcher := newChunkFetcher(t, cdn, fake, false)

	result := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(context.Background(), cdn.URL("chunks"), manifest.Chunk{ID: "dead", UncompressedSize: 10})
		result <- err
	}()
	advanceThrough(fake, 4, time.Second)

	err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for chunk fetch")
	if !errors.Is(err, ErrChunkUnavailable) {
		t.Fatalf("error = %v, want ErrChunkUnavailable", err)
	}
	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 5 {
		t.Errorf("error = %v, want exhaustion after 5 attempts", err)
	}
	if got := cdn.Requests("chunks/dead"); got != 5 {
		t.Errorf("chunk requests = %d, want 5", got)
	}
	if fake.PendingCount() != 0 {
		t.Error("a pause was scheduled after the final attempt")
	}
}

func TestChunkFetchCorruptPayloadIsRetried(t *testing.T) {
	payload := []byte("0123456789")
	cdn := testutil.NewCDN(t)
	cdn.Put("chunks/c", []byte("not a compressed frame"))
	fake := clock.Fake(time.Unix(0, 0))
	fetcher := newChunkFetcher(t, cdn, fake, false)

	result := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(context.Background(), cdn.URL("chunks"), manifest.Chunk{ID: "c", UncompressedSize: 10})
		result <- err
	}()
	fake.WaitForTimers(1)
	cdn.Put("chunks/c", mustCompress(t, payload, compress.FormatZstd))
	fake.Advance(time.Second)

	if err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for chunk fetch"); err != nil {
		t.Fatalf("Fetch after repair: %v", err)
	}
	if got := cdn.Requests("chunks/c"); got != 2 {
		t.Errorf("chunk requests = %d, want 2", got)
	}
}

func TestChunkFetchBoundsBodyByDeclaredSize(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Put("chunks/huge", bytes.Repeat([]byte{0xff}, 1<<20))
	fetcher := newChunkFetcher(t, cdn, clock.Real(), false)
	fetcher.retry = retry.Policy{Attempts: 1}

	_, err := fetcher.Fetch(context.Background(), cdn.URL("chunks"), manifest.Chunk{ID: "huge", CompressedSize: 16, UncompressedSize: 16})
	if !errors.Is(err, ErrChunkUnavailable) {
		t.Fatalf("error = %v, want ErrChunkUnavailable", err)
	}
	if !strings.Contains(err.Error(), "body exceeds") {
		t.Errorf("error %q does not report the oversized body", err)
	}
}

func TestChunkFetchSizeMismatch(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Put("chunks/short", mustCompress(t, []byte("abc"), compress.FormatZstd))
	fetcher := newChunkFetcher(t, cdn, clock.Real(), false)
	fetcher.retry = retry.Policy{Attempts: 1}

	_, err := fetcher.Fetch(context.Background(), cdn.URL("chunks"), manifest.Chunk{ID: "short", UncompressedSize: 4})
	if !errors.Is(err, ErrChunkUnavailable) {
		t.Fatalf("error = %v, want ErrChunkUnavailable", err)
	}
	if !strings.Contains(err.Error(), "declared 4") {
		t.Errorf("error %q does not mention the declared size", err)
	}
}

func TestChunkFetchVerification(t *testing.T) {
	payload := []byte("verified chunk")
	cdn := testutil.NewCDN(t)
	cdn.Put("chunks/v", mustCompress(t, payload, compress.FormatZstd))
	good := manifest.Chunk{ID: "v", UncompressedSize: int64(len(payload)), Checksum: md5Algorithm(t).Sum(payload)}
	bad := good
	bad.Checksum = "00000000000000000000000000000000"

	// Declared chunk checksums are ignored unless verification is on.
	lenient := newChunkFetcher(t, cdn, clock.Real(), false)
	if _, err := lenient.Fetch(context.Background(), cdn.URL("chunks"), bad); err != nil {
		t.Fatalf("unverified Fetch: %v", err)
	}

	strict := newChunkFetcher(t, cdn, clock.Real(), true)
	strict.retry = retry.Policy{Attempts: 2}
	if _, err := strict.Fetch(context.Background(), cdn.URL("chunks"), good); err != nil {
		t.Fatalf("verified Fetch of a good chunk: %v", err)
	}
	before := cdn.Requests("chunks/v")
	_, err := strict.Fetch(context.Background(), cdn.URL("chunks"), bad)
	if !errors.Is(err, ErrChunkUnavailable) {
		t.Fatalf("error = %v, want ErrChunkUnavailable", err)
	}
	if got := cdn.Requests("chunks/v") - before; got != 2 {
		t.Errorf("mismatching chunk requested %d times, want 2", got)
	}
}

func TestChunkFetchCancelled(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Fail("chunks/slow", -1)
	fake := clock.Fake(time.Unix(0, 0))
	fetcher := newChunkFetcher(t, cdn, fake, false)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(ctx, cdn.URL("chunks"), manifest.Chunk{ID: "slow", UncompressedSize: 1})
		result <- err
	}()
	fake.WaitForTimers(1)
	cancel()

	err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for chunk fetch")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrChunkUnavailable) {
		t.Error("cancellation reported as an unavailable chunk")
	}
}

func newManifestFetcher(t *testing.T, cdn *testutil.CDN, clk clock.Clock) *ManifestFetcher {
	t.Helper()
	fetcher, err := NewManifestFetcher(ManifestConfig{
		Client:    cdn.Client(),
		Retry:     manifestPolicy,
		Clock:     clk,
		Algorithm: md5Algorithm(t),
	})
	if err != nil {
		t.Fatalf("NewManifestFetcher: %v", err)
	}
	return fetcher
}

func TestManifestFetchVerifiesChecksumCaseInsensitively(t *testing.T) {
	body := []byte("manifest bytes")
	cdn := testutil.NewCDN(t)
	cdn.Put("manifests/m1", mustCompress(t, body, compress.FormatZstd))
	fetcher := newManifestFetcher(t, cdn, clock.Real())

	ref := build.AssetManifestRef{
		Key:               "game",
		ManifestID:        "m1",
		ManifestChecksum:  strings.ToUpper(md5Algorithm(t).Sum(body)),
		ManifestURLPrefix: cdn.URL("manifests"),
	}
	data, err := fetcher.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Errorf("Fetch = %q, want %q", data, body)
	}
}

func TestManifestFetchChecksumMismatchRetriesWholeFetch(t *testing.T) {
	body := []byte("manifest bytes")
	cdn := testutil.NewCDN(t)
	cdn.Put("manifests/m1", mustCompress(t, []byte("tampered"), compress.FormatZstd))
	fake := clock.Fake(time.Unix(0, 0))
	fetcher := newManifestFetcher(t, cdn, fake)

	ref := build.AssetManifestRef{
		Key:               "game",
		ManifestID:        "m1",
		ManifestChecksum:  md5Algorithm(t).Sum(body),
		ManifestURLPrefix: cdn.URL("manifests"),
	}
	result := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(context.Background(), ref)
		result <- err
	}()
	advanceThrough(fake, 4, 2*time.Second)

	err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for manifest fetch")
	if !errors.Is(err, ErrManifestUnavailable) {
		t.Fatalf("error = %v, want ErrManifestUnavailable", err)
	}
	var mismatch *ChecksumMismatchError
	if !errors.As(err, &mismatch) {
		t.Errorf("error = %v, want the last attempt's ChecksumMismatchError", err)
	}
	if got := cdn.Requests("manifests/m1"); got != 5 {
		t.Errorf("manifest requests = %d, want 5 (one download per attempt)", got)
	}
}

func TestManifestFetchRecoversFromMismatch(t *testing.T) {
	body := []byte("manifest bytes")
	cdn := testutil.NewCDN(t)
	cdn.Put("manifests/m1", mustCompress(t, []byte("stale"), compress.FormatLZ4))
	fake := clock.Fake(time.Unix(0, 0))
	fetcher := newManifestFetcher(t, cdn, fake)

	ref := build.AssetManifestRef{
		ManifestID:        "m1",
		ManifestChecksum:  md5Algorithm(t).Sum(body),
		ManifestURLPrefix: cdn.URL("manifests"),
	}
	result := make(chan error, 1)
	go func() {
		_, err := fetcher.Fetch(context.Background(), ref)
		result <- err
	}()
	fake.WaitForTimers(1)
	cdn.Put("manifests/m1", mustCompress(t, body, compress.FormatLZ4))
	fake.Advance(2 * time.Second)

	if err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for manifest fetch"); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
}

func TestManifestFetchDeclaredSizeBoundsDecompression(t *testing.T) {
	body := bytes.Repeat([]byte{'m'}, 4096)
	cdn := testutil.NewCDN(t)
	cdn.Put("manifests/big", mustCompress(t, body, compress.FormatZstd))
	fetcher := newManifestFetcher(t, cdn, clock.Real())
	fetcher.retry = retry.Policy{Attempts: 1}

	ref := build.AssetManifestRef{
		ManifestID:        "big",
		ManifestChecksum:  md5Algorithm(t).Sum(body),
		ManifestSize:      1024,
		ManifestURLPrefix: cdn.URL("manifests"),
	}
	if _, err := fetcher.Fetch(context.Background(), ref); !errors.Is(err, ErrManifestUnavailable) {
		t.Fatalf("error = %v, want ErrManifestUnavailable", err)
	}
}
