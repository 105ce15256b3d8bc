// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/chunksync/lib/clock"
	"github.com/bureau-foundation/chunksync/lib/retry"
	"github.com/bureau-foundation/chunksync/lib/testutil"
)

const sampleDescriptor = `{
  "retcode": 0,
  "message": "OK",
  "data": {
    "build_id": "b-1",
    "tag": "5.1.0",
    "manifests": [
      {
        "category_name": "game",
        "matching_field": "game",
        "manifest": {"id": "m-game", "checksum": "AA11", "uncompressed_size": "2048"},
        "manifest_download": {"url_prefix": "https://cdn/manifests/game", "compression": 1},
        "chunk_download": {"url_prefix": "https://cdn/chunks/game", "compression": 1}
      },
      {
        "category_name": "English",
        "matching_field": "en-us",
        "manifest": {"id": "m-en", "checksum": "bb22", "uncompressed_size": 512},
        "manifest_download": {"url_prefix": "https://cdn/manifests/en"},
        "chunk_download": {"url_prefix": "https://cdn/chunks/en"}
      }
    ]
  }
}`

func TestParseDescriptor(t *testing.T) {
	descriptor, err := ParseDescriptor([]byte(sampleDescriptor))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if descriptor.Tag != "5.1.0" {
		t.Errorf("Tag = %q, want 5.1.0", descriptor.Tag)
	}
	if len(descriptor.Manifests) != 2 {
		t.Fatalf("got %d manifests, want 2", len(descriptor.Manifests))
	}

	game := descriptor.Manifests[0]
	want := AssetManifestRef{
		Key:               "game",
		ManifestID:        "m-game",
		ManifestChecksum:  "AA11",
		ManifestSize:      2048,
		ManifestURLPrefix: "https://cdn/manifests/game",
		ChunkURLPrefix:    "https://cdn/chunks/game",
	}
	if game != want {
		t.Errorf("game ref = %+v, want %+v", game, want)
	}
	if descriptor.Manifests[1].ManifestSize != 512 {
		t.Errorf("numeric uncompressed_size = %d, want 512", descriptor.Manifests[1].ManifestSize)
	}
}

func TestParseDescriptorMissingFields(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"no data", `{"retcode":0}`, "data"},
		{"no tag", `{"data":{"manifests":[]}}`, "data.tag"},
		{"no manifests", `{"data":{"tag":"1.0"}}`, "data.manifests"},
		{
			"no matching field",
			`{"data":{"tag":"1.0","manifests":[{"manifest":{"id":"m","checksum":"c"}}]}}`,
			"data.manifests[0].matching_field",
		},
		{
			"no manifest checksum",
			`{"data":{"tag":"1.0","manifests":[{"matching_field":"game","manifest":{"id":"m"}}]}}`,
			"data.manifests[0].manifest.checksum",
		},
		{
			"no chunk prefix",
			`{"data":{"tag":"1.0","manifests":[{"matching_field":"game","manifest":{"id":"m","checksum":"c"},"manifest_download":{"url_prefix":"u"}}]}}`,
			"data.manifests[0].chunk_download.url_prefix",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			descriptor, err := ParseDescriptor([]byte(test.body))
			// A malformed entry is set aside; a missing top-level
			// field fails the parse.
			if err == nil && len(descriptor.Invalid) == 1 {
				err = descriptor.Invalid[0].Err
			}
			var missing *MissingFieldError
			if !errors.As(err, &missing) {
				t.Fatalf("error = %v, want MissingFieldError", err)
			}
			if missing.Field != test.field {
				t.Errorf("Field = %q, want %q", missing.Field, test.field)
			}
		})
	}
}

// withMalformedEntry is sampleDescriptor plus a ja-jp entry that lacks
// its chunk prefix.
const withMalformedEntry = `{
  "retcode": 0,
  "data": {
    "tag": "5.1.0",
    "manifests": [
      {
        "matching_field": "game",
        "manifest": {"id": "m-game", "checksum": "AA11"},
        "manifest_download": {"url_prefix": "https://cdn/manifests/game"},
        "chunk_download": {"url_prefix": "https://cdn/chunks/game"}
      },
      {
        "matching_field": "ja-jp",
        "manifest": {"id": "m-ja", "checksum": "cc33"},
        "manifest_download": {"url_prefix": "https://cdn/manifests/ja"}
      }
    ]
  }
}`

func TestParseDescriptorSetsAsideMalformedEntry(t *testing.T) {
	descriptor, err := ParseDescriptor([]byte(withMalformedEntry))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if len(descriptor.Manifests) != 1 || descriptor.Manifests[0].Key != "game" {
		t.Errorf("Manifests = %+v, want only game", descriptor.Manifests)
	}
	if len(descriptor.Invalid) != 1 || descriptor.Invalid[0].Key != "ja-jp" {
		t.Fatalf("Invalid = %+v, want the ja-jp entry", descriptor.Invalid)
	}
}

func TestResolveIgnoresUnrequestedMalformedEntry(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Put("build", []byte(withMalformedEntry))
	resolver := newTestResolver(t, cdn, clock.Real())

	resolution, err := resolver.Resolve(context.Background(), Request{Game: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(resolution.Assets) != 1 || resolution.Assets[0].Key != "game" {
		t.Errorf("assets = %+v, want game", resolution.Assets)
	}
	if got := cdn.Requests("build"); got != 1 {
		t.Errorf("build endpoint requests = %d, want 1", got)
	}
}

func TestResolveRequestedMalformedEntry(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Put("build", []byte(withMalformedEntry))
	resolver := newTestResolver(t, cdn, clock.Real())

	_, err := resolver.Resolve(context.Background(), Request{Game: true, Language: "JA-JP"})
	if !errors.Is(err, ErrConnectivity) {
		t.Fatalf("error = %v, want ErrConnectivity", err)
	}
	var missing *MissingFieldError
	if !errors.As(err, &missing) || missing.Field != "data.manifests[1].chunk_download.url_prefix" {
		t.Errorf("error = %v, want the missing chunk prefix named", err)
	}
	if got := cdn.Requests("build"); got != 1 {
		t.Errorf("build endpoint requests = %d, want 1 (no retries)", got)
	}
}

func TestParseDescriptorRetcode(t *testing.T) {
	_, err := ParseDescriptor([]byte(`{"retcode":-1,"message":"invalid launcher","data":null}`))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("error = %v, want ErrRejected", err)
	}
	if !strings.Contains(err.Error(), "invalid launcher") {
		t.Errorf("error %q does not carry the endpoint message", err)
	}
}

func newTestResolver(t *testing.T, cdn *testutil.CDN, clk clock.Clock) *Resolver {
	t.Helper()
	resolver, err := NewResolver(ResolverConfig{
		URL:    cdn.URL("build"),
		Client: cdn.Client(),
		Retry:  retry.Policy{Attempts: 5, Delay: 2 * time.Second},
		Clock:  clk,
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return resolver
}

func TestResolveSelectsRequestedAssets(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Put("build", []byte(sampleDescriptor))
	resolver := newTestResolver(t, cdn, clock.Real())

	tests := []struct {
		name    string
		request Request
		keys    []string
	}{
		{"game only", Request{Game: true}, []string{"game"}},
		{"language only", Request{Language: "en-us"}, []string{"en-us"}},
		{"both", Request{Game: true, Language: "EN-US"}, []string{"game", "en-us"}},
		{"unpublished language skipped", Request{Game: true, Language: "ja-jp"}, []string{"game"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			resolution, err := resolver.Resolve(context.Background(), test.request)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if resolution.Tag != "5.1.0" {
				t.Errorf("Tag = %q, want 5.1.0", resolution.Tag)
			}
			var keys []string
			for _, asset := range resolution.Assets {
				keys = append(keys, asset.Key)
				if asset.Game != (asset.Key == "game") {
					t.Errorf("asset %s: Game = %v", asset.Key, asset.Game)
				}
			}
			if strings.Join(keys, ",") != strings.Join(test.keys, ",") {
				t.Errorf("assets = %v, want %v", keys, test.keys)
			}
		})
	}
}

func TestResolveNothingResolved(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Put("build", []byte(sampleDescriptor))
	resolver := newTestResolver(t, cdn, clock.Real())

	_, err := resolver.Resolve(context.Background(), Request{Language: "ko-kr"})
	if !errors.Is(err, ErrNothingResolved) {
		t.Fatalf("error = %v, want ErrNothingResolved", err)
	}
	_, err = resolver.Resolve(context.Background(), Request{})
	if !errors.Is(err, ErrNothingResolved) {
		t.Fatalf("empty request error = %v, want ErrNothingResolved", err)
	}
}

func TestResolveRetriesThenConnectivityError(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Put("build", []byte(sampleDescriptor))
	cdn.Fail("build", -1)
	fake := clock.Fake(time.Unix(0, 0))
	resolver := newTestResolver(t, cdn, fake)

	result := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(context.Background(), Request{Game: true})
		result <- err
	}()
	for range 4 {
		fake.WaitForTimers(1)
		fake.Advance(2 * time.Second)
	}

	err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for Resolve")
	if !errors.Is(err, ErrConnectivity) {
		t.Fatalf("error = %v, want ErrConnectivity", err)
	}
	var exhausted *retry.ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 5 {
		t.Errorf("error = %v, want ExhaustedError after 5 attempts", err)
	}
	if got := cdn.Requests("build"); got != 5 {
		t.Errorf("build endpoint requests = %d, want 5", got)
	}
}

func TestResolveRecoversAfterTransientFailure(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Put("build", []byte(sampleDescriptor))
	cdn.Fail("build", 1)
	fake := clock.Fake(time.Unix(0, 0))
	resolver := newTestResolver(t, cdn, fake)

	result := make(chan error, 1)
	go func() {
		_, err := resolver.Resolve(context.Background(), Request{Game: true})
		result <- err
	}()
	fake.WaitForTimers(1)
	fake.Advance(2 * time.Second)

	if err := testutil.RequireReceive(t, result, 5*time.Second, "waiting for Resolve"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := cdn.Requests("build"); got != 2 {
		t.Errorf("build endpoint requests = %d, want 2", got)
	}
}

func TestResolveCancelled(t *testing.T) {
	cdn := testutil.NewCDN(t)
	cdn.Put("build", []byte(sampleDescriptor))
	resolver := newTestResolver(t, cdn, clock.Real())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := resolver.Resolve(ctx, Request{Game: true})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrConnectivity) {
		t.Error("cancellation reported as a connectivity error")
	}
}

func TestResolveDescriptorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "build.jsonc")
	content := "// pinned for the offline mirror\n" + sampleDescriptor
	// Block comments are stripped as well.
	content = strings.Replace(content, `"retcode": 0,`, `"retcode": 0, /* ok */`, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	resolver, err := NewResolver(ResolverConfig{
		DescriptorFile: path,
		Retry:          retry.Policy{Attempts: 1},
	})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	resolution, err := resolver.Resolve(context.Background(), Request{Game: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolution.Tag != "5.1.0" || len(resolution.Assets) != 1 {
		t.Errorf("resolution = %+v", resolution)
	}
}

func TestNewResolverRequiresSource(t *testing.T) {
	if _, err := NewResolver(ResolverConfig{Retry: retry.Policy{Attempts: 1}}); err == nil {
		t.Fatal("NewResolver accepted a config with neither URL nor DescriptorFile")
	}
}

func TestDescriptorMarshalRoundTrip(t *testing.T) {
	original := &Descriptor{
		Tag: "6.0.0",
		Manifests: []AssetManifestRef{
			{Key: "game", ManifestID: "m1", ManifestChecksum: "c1", ManifestSize: 99, ManifestURLPrefix: "https://cdn/m", ChunkURLPrefix: "https://cdn/c"},
			{Key: "ja-jp", ManifestID: "m2", ManifestChecksum: "c2", ManifestURLPrefix: "https://cdn/m", ChunkURLPrefix: "https://cdn/c"},
		},
	}
	data, err := original.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := ParseDescriptor(data)
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if parsed.Tag != original.Tag || len(parsed.Manifests) != 2 {
		t.Fatalf("parsed = %+v", parsed)
	}
	for index := range original.Manifests {
		if parsed.Manifests[index] != original.Manifests[index] {
			t.Errorf("manifest %d = %+v, want %+v", index, parsed.Manifests[index], original.Manifests[index])
		}
	}
}
