// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/chunksync/lib/clock"
	"github.com/bureau-foundation/chunksync/lib/netutil"
	"github.com/bureau-foundation/chunksync/lib/retry"
)

// DefaultGameKey is the descriptor key of the base game asset.
const DefaultGameKey = "game"

var (
	// ErrConnectivity wraps every failure to obtain a usable
	// descriptor: unreachable endpoint, non-2xx response, rejected
	// retcode, or unparsable body, each after retry exhaustion.
	ErrConnectivity = errors.New("build endpoint unavailable")

	// ErrNothingResolved is returned when none of the requested assets
	// has a descriptor entry.
	ErrNothingResolved = errors.New("no requested asset is published in this build")
)

// Request selects which asset classes a session synchronizes.
type Request struct {
	// Game requests the base game asset.
	Game bool

	// Language is a language-pack key such as "en-us", or empty for
	// none.
	Language string
}

// Resolution is the output of Resolve: the build tag plus one manifest
// reference per requested asset that the build publishes.
type Resolution struct {
	Tag    string
	Assets []AssetManifestRef
}

// ResolverConfig configures a Resolver. Exactly one of URL and
// DescriptorFile is used; DescriptorFile takes precedence.
type ResolverConfig struct {
	URL            string
	DescriptorFile string
	GameKey        string

	Client *http.Client
	Retry  retry.Policy
	Clock  clock.Clock
	Logger *slog.Logger
}

// Resolver turns an asset Request into manifest references by reading
// the build-description endpoint.
type Resolver struct {
	url            string
	descriptorFile string
	gameKey        string
	client         *http.Client
	retry          retry.Policy
	clock          clock.Clock
	logger         *slog.Logger
}

// NewResolver validates config and returns a Resolver.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	if config.URL == "" && config.DescriptorFile == "" {
		return nil, errors.New("build resolver: URL or DescriptorFile is required")
	}
	if err := config.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("build resolver: retry: %w", err)
	}
	resolver := &Resolver{
		url:            config.URL,
		descriptorFile: config.DescriptorFile,
		gameKey:        config.GameKey,
		client:         config.Client,
		retry:          config.Retry,
		clock:          config.Clock,
		logger:         config.Logger,
	}
	if resolver.gameKey == "" {
		resolver.gameKey = DefaultGameKey
	}
	if resolver.client == nil {
		resolver.client = netutil.NewClient(0, "")
	}
	if resolver.clock == nil {
		resolver.clock = clock.Real()
	}
	if resolver.logger == nil {
		resolver.logger = slog.New(slog.DiscardHandler)
	}
	return resolver, nil
}

// Fetch reads and parses the build descriptor, retrying per the
// configured policy. The returned error wraps ErrConnectivity unless
// the context was cancelled.
func (r *Resolver) Fetch(ctx context.Context) (*Descriptor, error) {
	var descriptor *Descriptor
	err := r.retry.Do(ctx, r.clock, func(attempt int) error {
		var err error
		descriptor, err = r.fetchOnce(ctx)
		return err
	}, func(attempt int, err error) {
		r.logger.Warn("build descriptor fetch failed",
			"attempt", attempt,
			"max_attempts", r.retry.Attempts,
			"error", err,
		)
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrConnectivity, err)
	}
	return descriptor, nil
}

func (r *Resolver) fetchOnce(ctx context.Context) (*Descriptor, error) {
	if r.descriptorFile != "" {
		data, err := os.ReadFile(r.descriptorFile)
		if err != nil {
			return nil, err
		}
		return ParseDescriptor(jsonc.ToJSON(data))
	}
	data, err := netutil.Get(ctx, r.client, r.url, netutil.MaxResponseSize)
	if err != nil {
		return nil, err
	}
	return ParseDescriptor(data)
}

// Resolve fetches the descriptor and picks the manifest reference for
// each requested asset. A requested asset the build does not publish
// is logged and skipped; if nothing resolves the error wraps
// ErrNothingResolved. A requested asset whose descriptor entry is
// malformed fails with ErrConnectivity without further retries.
func (r *Resolver) Resolve(ctx context.Context, request Request) (*Resolution, error) {
	descriptor, err := r.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return r.Select(descriptor, request)
}

// Select applies request to an already fetched descriptor.
func (r *Resolver) Select(descriptor *Descriptor, request Request) (*Resolution, error) {
	if !request.Game && request.Language == "" {
		return nil, fmt.Errorf("%w: no asset requested", ErrNothingResolved)
	}

	resolution := &Resolution{Tag: descriptor.Tag}
	var keys []string
	var malformed error
	add := func(key string, game bool) {
		keys = append(keys, key)
		ref, ok := descriptor.Lookup(key)
		if !ok {
			if invalid, found := descriptor.lookupInvalid(key); found {
				malformed = fmt.Errorf("%w: asset %s: %w", ErrConnectivity, key, invalid.Err)
				return
			}
			r.logger.Warn("asset not published in build, skipping",
				"asset", key,
				"tag", descriptor.Tag,
			)
			return
		}
		ref.Game = game
		resolution.Assets = append(resolution.Assets, ref)
	}
	if request.Game {
		add(r.gameKey, true)
	}
	if request.Language != "" {
		add(request.Language, false)
	}
	if malformed != nil {
		return nil, malformed
	}
	for _, invalid := range descriptor.Invalid {
		r.logger.Warn("malformed build descriptor entry ignored",
			"asset", invalid.Key,
			"error", invalid.Err,
		)
	}
	if len(resolution.Assets) == 0 {
		return nil, fmt.Errorf("%w: requested %v in build %s", ErrNothingResolved, keys, descriptor.Tag)
	}
	return resolution, nil
}
