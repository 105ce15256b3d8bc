// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package assetsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/chunksync/lib/build"
	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/clock"
	"github.com/bureau-foundation/chunksync/lib/fetch"
	"github.com/bureau-foundation/chunksync/lib/finalize"
	"github.com/bureau-foundation/chunksync/lib/installlock"
	"github.com/bureau-foundation/chunksync/lib/manifest"
	"github.com/bureau-foundation/chunksync/lib/progress"
	"github.com/bureau-foundation/chunksync/lib/retry"
)

// DefaultWorkers is the worker pool size when Options.Workers is zero.
const DefaultWorkers = 8

// DefaultStagingDir is the staging directory name inside the install
// directory.
const DefaultStagingDir = "staging"

// ErrNoManifest is returned when every resolved asset's manifest
// failed to decode.
var ErrNoManifest = errors.New("no manifest could be decoded")

// Outcome is the top-level result of a session.
type Outcome string

const (
	OutcomeCompleted             Outcome = "completed"
	OutcomeCompletedWithFailures Outcome = "completed_with_failures"
	OutcomeAborted               Outcome = "aborted"
	OutcomeCancelled             Outcome = "cancelled"
)

// Config holds the settings shared by every session of an Engine.
type Config struct {
	// BuildURL is the build-description endpoint. DescriptorFile, if
	// set, is read instead.
	BuildURL       string
	DescriptorFile string

	// GameKey is the descriptor key of the base game asset.
	GameKey string

	Client *http.Client

	BuildRetry    retry.Policy
	ManifestRetry retry.Policy
	ChunkRetry    retry.Policy

	// Algorithm checks manifests and files.
	Algorithm checksum.Algorithm

	// VerifyChunks checks every chunk against its declared checksum.
	VerifyChunks bool

	ProgressInterval time.Duration

	VersionFile string
	ConfigFile  string
	Channel     finalize.Channel

	Clock clock.Clock

	// Logger receives every session record. Records at or above
	// EventLevel are also delivered to the observer as log events.
	Logger     *slog.Logger
	EventLevel slog.Leveler
}

// Options selects what one session does.
type Options struct {
	InstallPath string

	// StagingPath defaults to DefaultStagingDir inside InstallPath.
	StagingPath string

	// Game requests the base game; Language requests one language
	// pack by key.
	Game     bool
	Language string

	// Workers bounds parallel file synchronization.
	Workers int

	// VerifyOnly checks local files against the manifests and reports
	// the ones needing repair without downloading or finalizing.
	VerifyOnly bool
}

// Result summarizes a session. It mirrors the terminal event.
type Result struct {
	Session string
	Outcome Outcome
	Tag     string

	FilesTotal     int
	FilesCompleted int
	FilesFailed    int

	// FilesSkipped counts completed files that needed no download.
	FilesSkipped int

	BytesTotal    int64
	ChunksFetched int64

	// FailedPaths lists the failed files in the order they finished.
	FailedPaths []string

	// Finalize is set when the Finalizer ran.
	Finalize *finalize.Report
}

// Engine runs sync sessions.
type Engine struct {
	config Config
}

// New validates config and returns an Engine.
func New(config Config) (*Engine, error) {
	if config.BuildURL == "" && config.DescriptorFile == "" {
		return nil, errors.New("assetsync: BuildURL or DescriptorFile is required")
	}
	if config.Algorithm.New == nil {
		return nil, errors.New("assetsync: Algorithm is required")
	}
	var errs []error
	if err := config.BuildRetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("build retry: %w", err))
	}
	if err := config.ManifestRetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("manifest retry: %w", err))
	}
	if err := config.ChunkRetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("chunk retry: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("assetsync: %w", err)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.EventLevel == nil {
		config.EventLevel = slog.LevelInfo
	}
	return &Engine{config: config}, nil
}

// session is the per-Run state.
type session struct {
	engine  *Engine
	options Options
	id      string
	logger  *slog.Logger
	emitter *emitter
	result  *Result
}

// Run executes one session and reports every step to observer, which
// may be nil.
//
// The returned error is nil for completed sessions, with or without
// failed files. An aborted session returns its root cause; a
// cancelled session returns the context's error. Result is never nil.
func (e *Engine) Run(ctx context.Context, options Options, observer Observer) (*Result, error) {
	id := uuid.NewString()
	events := &emitter{session: id, now: e.config.Clock.Now, observer: observer}
	handler := teeHandler{
		e.config.Logger.Handler(),
		NewEventLogHandler(e.config.EventLevel, events.emit),
	}
	s := &session{
		engine:  e,
		options: options,
		id:      id,
		logger:  slog.New(handler).With("session", id),
		emitter: events,
		result:  &Result{Session: id},
	}

	err := s.run(ctx)
	switch {
	case err == nil:
		s.result.Outcome = OutcomeCompleted
		if s.result.FilesFailed > 0 {
			s.result.Outcome = OutcomeCompletedWithFailures
		}
		s.logger.Info("session finished",
			"outcome", s.result.Outcome,
			"completed", s.result.FilesCompleted,
			"failed", s.result.FilesFailed,
		)
		s.emitCompletion()
		return s.result, nil

	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		s.result.Outcome = OutcomeCancelled
		s.logger.Info("session cancelled",
			"completed", s.result.FilesCompleted,
			"failed", s.result.FilesFailed,
		)
		s.emitCompletion()
		return s.result, ctx.Err()

	default:
		s.result.Outcome = OutcomeAborted
		s.logger.Error("session aborted", "error", err)
		events.emit(Event{Type: EventTypeError, Error: &ErrorEvent{Message: err.Error()}})
		return s.result, err
	}
}

func (s *session) emitCompletion() {
	s.emitter.emit(Event{
		Type: EventTypeCompletion,
		Completion: &CompletionEvent{
			Outcome:        s.result.Outcome,
			Tag:            s.result.Tag,
			FilesTotal:     s.result.FilesTotal,
			FilesCompleted: s.result.FilesCompleted,
			FilesFailed:    s.result.FilesFailed,
			FailedPaths:    s.result.FailedPaths,
		},
	})
}

func (s *session) run(ctx context.Context) error {
	config := s.engine.config
	options := s.options

	if options.InstallPath == "" {
		return errors.New("install path is required")
	}
	installPath, err := filepath.Abs(options.InstallPath)
	if err != nil {
		return fmt.Errorf("install path: %w", err)
	}
	stagingPath := options.StagingPath
	if stagingPath == "" {
		stagingPath = filepath.Join(installPath, DefaultStagingDir)
	}
	workers := options.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	lock, err := installlock.Acquire(installPath)
	if err != nil {
		return err
	}
	defer lock.Release()

	s.logger.Info("session started",
		"install", installPath,
		"game", options.Game,
		"language", options.Language,
		"workers", workers,
		"verify_only", options.VerifyOnly,
	)

	resolver, err := build.NewResolver(build.ResolverConfig{
		URL:            config.BuildURL,
		DescriptorFile: config.DescriptorFile,
		GameKey:        config.GameKey,
		Client:         config.Client,
		Retry:          config.BuildRetry,
		Clock:          config.Clock,
		Logger:         s.logger,
	})
	if err != nil {
		return err
	}
	resolution, err := resolver.Resolve(ctx, build.Request{Game: options.Game, Language: options.Language})
	if err != nil {
		return err
	}
	s.result.Tag = resolution.Tag
	s.logger.Info("build resolved", "tag", resolution.Tag, "assets", len(resolution.Assets))

	manifests, err := s.fetchManifests(ctx, resolution)
	if err != nil {
		return err
	}

	set := buildWorkSet(manifests, s.logger)
	s.result.FilesTotal = len(set.files)
	s.result.BytesTotal = set.totalBytes

	chunks, err := fetch.NewChunkFetcher(fetch.ChunkConfig{
		Client:       config.Client,
		Retry:        config.ChunkRetry,
		Clock:        config.Clock,
		Logger:       s.logger,
		VerifyChunks: config.VerifyChunks,
		Algorithm:    config.Algorithm,
	})
	if err != nil {
		return err
	}
	aggregator := progress.New(set.totalBytes, len(set.files), config.ProgressInterval, config.Clock, func(snapshot progress.Snapshot) {
		s.emitter.emit(Event{
			Type: EventTypeProgress,
			Progress: &ProgressEvent{
				Downloaded: snapshot.Downloaded,
				Total:      snapshot.Total,
				FilesDone:  snapshot.FilesDone,
				FilesTotal: snapshot.FilesTotal,
			},
		})
	})
	aggregator.Flush()

	if !options.VerifyOnly {
		for _, folder := range set.folders {
			if withinStaging(stagingPath, filepath.Join(installPath, filepath.FromSlash(folder))) {
				s.logger.Warn("folder lies inside the staging directory, skipping", "path", folder)
				continue
			}
			if err := os.MkdirAll(filepath.Join(stagingPath, filepath.FromSlash(folder)), 0o755); err != nil {
				return fmt.Errorf("creating folder %s: %w", folder, err)
			}
		}
	}

	synchronizer := &fileSynchronizer{
		installPath: installPath,
		stagingPath: stagingPath,
		algorithm:   config.Algorithm,
		chunks:      chunks,
		progress:    aggregator,
		logger:      s.logger,
		verifyOnly:  options.VerifyOnly,
	}
	err = s.runWorkers(ctx, synchronizer, set.files, workers, aggregator)
	s.result.ChunksFetched = chunks.Fetched()
	if err != nil {
		return err
	}
	aggregator.Flush()

	if options.VerifyOnly {
		return nil
	}

	finalizer, err := finalize.New(finalize.Config{
		InstallPath: installPath,
		StagingPath: stagingPath,
		VersionFile: config.VersionFile,
		ConfigFile:  config.ConfigFile,
		Channel:     config.Channel,
		Logger:      s.logger,
	})
	if err != nil {
		return err
	}
	gameIncluded := false
	for _, asset := range manifests {
		gameIncluded = gameIncluded || asset.game
	}
	report, err := finalizer.Finalize(ctx, finalize.Request{Tag: resolution.Tag, GameIncluded: gameIncluded})
	s.result.Finalize = report
	if err != nil {
		return fmt.Errorf("finalizing install: %w", err)
	}
	return nil
}

// fetchManifests fetches every resolved manifest in order. A fetch
// failure aborts the session; a decode failure drops that asset.
func (s *session) fetchManifests(ctx context.Context, resolution *build.Resolution) ([]assetManifest, error) {
	config := s.engine.config
	fetcher, err := fetch.NewManifestFetcher(fetch.ManifestConfig{
		Client:    config.Client,
		Retry:     config.ManifestRetry,
		Clock:     config.Clock,
		Logger:    s.logger,
		Algorithm: config.Algorithm,
	})
	if err != nil {
		return nil, err
	}

	var manifests []assetManifest
	for _, ref := range resolution.Assets {
		data, err := fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		decoded, err := manifest.Decode(data)
		if err != nil {
			s.logger.Error("manifest rejected, skipping asset",
				"asset", ref.Key,
				"manifest", ref.ManifestID,
				"error", err,
			)
			continue
		}
		s.logger.Info("manifest loaded",
			"asset", ref.Key,
			"files", decoded.FileCount(),
			"bytes", decoded.TotalSize(),
		)
		manifests = append(manifests, assetManifest{
			asset:          ref.Key,
			game:           ref.Game,
			chunkURLPrefix: ref.ChunkURLPrefix,
			manifest:       decoded,
		})
	}
	if len(manifests) == 0 {
		return nil, ErrNoManifest
	}
	return manifests, nil
}

type fileResult struct {
	path   string
	status fileStatus
}

// runWorkers drains files with a pool of workers. Each item is
// claimed by exactly one worker. A failed file is a result, not an
// error; only cancellation stops the pool early.
func (s *session) runWorkers(ctx context.Context, synchronizer *fileSynchronizer, files []workItem, workers int, aggregator *progress.Aggregator) error {
	queue := make(chan workItem)
	results := make(chan fileResult)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(queue)
		for _, item := range files {
			select {
			case queue <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for range min(workers, max(len(files), 1)) {
		group.Go(func() error {
			for item := range queue {
				status, err := synchronizer.sync(ctx, item)
				if err != nil {
					return err
				}
				results <- fileResult{path: item.entry.Path, status: status}
			}
			return nil
		})
	}

	var waitErr error
	done := make(chan struct{})
	go func() {
		waitErr = group.Wait()
		close(results)
		close(done)
	}()

	for result := range results {
		switch result.status {
		case statusFailed:
			s.result.FilesFailed++
			s.result.FailedPaths = append(s.result.FailedPaths, result.path)
		case statusInstalled, statusStaged:
			s.result.FilesCompleted++
			s.result.FilesSkipped++
		default:
			s.result.FilesCompleted++
		}
		aggregator.FileDone()
	}
	<-done
	return waitErr
}
