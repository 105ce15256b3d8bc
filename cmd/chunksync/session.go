// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chunksync/cmd/chunksync/cli"
	"github.com/bureau-foundation/chunksync/lib/assetsync"
	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/config"
	"github.com/bureau-foundation/chunksync/lib/finalize"
	"github.com/bureau-foundation/chunksync/lib/netutil"
	"github.com/bureau-foundation/chunksync/lib/syncui"
)

// Exit codes beyond 0 and 1.
const (
	exitIncomplete = 2
	exitCancelled  = 130
)

// sessionParams are the flags shared by sync and verify. Non-zero
// values override the config file for this invocation.
type sessionParams struct {
	ConfigPath   string `flag:"config" desc:"config file (default: $CHUNKSYNC_CONFIG)"`
	InstallPath  string `flag:"install" desc:"install directory"`
	Language     string `flag:"language" desc:"language pack key, e.g. en-us"`
	NoGame       bool   `flag:"no-game" desc:"skip the base game asset"`
	Workers      int    `flag:"workers" desc:"parallel file downloads"`
	VerifyChunks bool   `flag:"verify-chunks" desc:"check every chunk against its checksum"`
	JSON         bool   `flag:"json" desc:"print session events as JSON lines on stdout"`
	TUI          bool   `flag:"tui" desc:"show an interactive progress view"`
	Verbose      bool   `flag:"verbose,v" desc:"include debug records"`
}

// loadConfig reads the config file and applies flag overrides.
func (params *sessionParams) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if params.ConfigPath != "" {
		cfg, err = config.LoadFile(params.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if params.InstallPath != "" {
		cfg.Install.Path = params.InstallPath
	}
	if params.Language != "" {
		cfg.Assets.Language = params.Language
	}
	if params.NoGame {
		cfg.Assets.Game = false
	}
	if params.Workers != 0 {
		cfg.Transfer.Workers = params.Workers
	}
	if params.VerifyChunks {
		cfg.Transfer.VerifyChunks = true
	}
	cfg.ExpandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

func (params *sessionParams) level() slog.Level {
	if params.Verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// newEngine builds an engine from a validated config.
func newEngine(cfg *config.Config, logger *slog.Logger, eventLevel slog.Leveler) (*assetsync.Engine, error) {
	algorithm, err := checksum.Lookup(cfg.Transfer.Checksum)
	if err != nil {
		return nil, err
	}
	return assetsync.New(assetsync.Config{
		BuildURL:         cfg.Build.URL,
		DescriptorFile:   cfg.Build.DescriptorFile,
		GameKey:          cfg.Build.GameKey,
		Client:           netutil.NewClient(cfg.Transfer.Timeout, cfg.Transfer.UserAgent),
		BuildRetry:       cfg.Transfer.Retry.Build,
		ManifestRetry:    cfg.Transfer.Retry.Manifest,
		ChunkRetry:       cfg.Transfer.Retry.Chunk,
		Algorithm:        algorithm,
		VerifyChunks:     cfg.Transfer.VerifyChunks,
		ProgressInterval: cfg.Transfer.ProgressInterval,
		VersionFile:      cfg.Install.VersionFile,
		ConfigFile:       cfg.Install.ConfigFile,
		Channel: finalize.Channel{
			Channel:    cfg.Channel.Channel,
			SubChannel: cfg.Channel.SubChannel,
			CPS:        cfg.Channel.CPS,
		},
		Logger:     logger,
		EventLevel: eventLevel,
	})
}

// runSession runs one sync or verify session, reporting it the way
// params ask, and maps the outcome to the command's error.
func runSession(ctx context.Context, params *sessionParams, command string, verifyOnly bool) error {
	if params.JSON && params.TUI {
		return errors.New("--json and --tui are mutually exclusive")
	}
	if params.TUI && !cli.StdoutIsTerminal() {
		return errors.New("--tui requires a terminal on stdout")
	}
	cfg, err := params.loadConfig()
	if err != nil {
		return err
	}

	options := assetsync.Options{
		InstallPath: cfg.Install.Path,
		StagingPath: cfg.Install.Staging,
		Game:        cfg.Assets.Game,
		Language:    cfg.Assets.Language,
		Workers:     cfg.Transfer.Workers,
		VerifyOnly:  verifyOnly,
	}

	var result *assetsync.Result
	switch {
	case params.JSON:
		result, err = runJSON(ctx, cfg, params, options)
	case params.TUI:
		result, err = runTUI(ctx, cfg, params, options)
	default:
		logger := cli.NewCommandLogger(params.level()).With("command", command)
		var engine *assetsync.Engine
		engine, err = newEngine(cfg, logger, params.level())
		if err != nil {
			return err
		}
		result, err = engine.Run(ctx, options, nil)
		if result != nil && result.Outcome != assetsync.OutcomeAborted {
			printSummary(os.Stdout, result, verifyOnly)
		}
	}
	if result == nil {
		return err
	}
	return outcomeError(result, err)
}

// runJSON writes every event as a JSON line on stdout. The event
// stream already carries the log records, so nothing else is logged.
func runJSON(ctx context.Context, cfg *config.Config, params *sessionParams, options assetsync.Options) (*assetsync.Result, error) {
	engine, err := newEngine(cfg, slog.New(slog.DiscardHandler), params.level())
	if err != nil {
		return nil, err
	}
	lines := cli.NewJSONLines(os.Stdout)
	result, err := engine.Run(ctx, options, assetsync.ObserverFunc(func(event assetsync.Event) {
		lines.Write(event)
	}))
	if writeErr := lines.Err(); writeErr != nil && err == nil {
		err = fmt.Errorf("writing events: %w", writeErr)
	}
	return result, err
}

// runTUI drives the progress view while the engine runs in the
// background. Quitting the view cancels the session.
func runTUI(ctx context.Context, cfg *config.Config, params *sessionParams, options assetsync.Options) (*assetsync.Result, error) {
	engine, err := newEngine(cfg, slog.New(slog.DiscardHandler), params.level())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	feed := syncui.NewFeed(256)
	type outcome struct {
		result *assetsync.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := engine.Run(ctx, options, feed)
		done <- outcome{result, err}
	}()

	program := tea.NewProgram(syncui.NewModel(feed.Events(), cancel), tea.WithContext(ctx))
	_, programErr := program.Run()
	feed.Stop()
	if programErr != nil {
		cancel()
	}

	finished := <-done
	if finished.result != nil && finished.result.Outcome != assetsync.OutcomeAborted {
		printSummary(os.Stdout, finished.result, options.VerifyOnly)
	}
	return finished.result, finished.err
}

// outcomeError maps a session outcome to the command's return value.
func outcomeError(result *assetsync.Result, err error) error {
	switch result.Outcome {
	case assetsync.OutcomeCompleted:
		return nil
	case assetsync.OutcomeCompletedWithFailures:
		return &cli.ExitError{Code: exitIncomplete}
	case assetsync.OutcomeCancelled:
		return &cli.ExitError{Code: exitCancelled}
	default:
		if err == nil {
			err = errors.New("session aborted")
		}
		return err
	}
}

func printSummary(w io.Writer, result *assetsync.Result, verifyOnly bool) {
	verb := "synchronized"
	if verifyOnly {
		verb = "verified"
	}
	fmt.Fprintf(w, "%s: %s %d/%d files (%s) of build %s\n",
		result.Outcome, verb, result.FilesCompleted, result.FilesTotal,
		humanize.IBytes(uint64(max(result.BytesTotal, 0))), result.Tag)
	if result.FilesFailed > 0 {
		label := "failed"
		if verifyOnly {
			label = "need repair"
		}
		fmt.Fprintf(w, "%d files %s:\n", result.FilesFailed, label)
		for _, path := range result.FailedPaths {
			fmt.Fprintf(w, "  %s\n", path)
		}
	}
}

func syncCommand() *cli.Command {
	var params sessionParams
	return &cli.Command{
		Name:    "sync",
		Summary: "Install or update the configured assets",
		Description: `Resolve the current build, download every file that is missing or
damaged, and move the result into the install directory.

Files already present with a matching checksum are not downloaded.
Files that cannot be downloaded are reported and the rest of the
build is still installed; the exit status is then 2.`,
		Examples: []cli.Example{
			{Description: "Update using a config file", Command: "chunksync sync --config ~/.config/chunksync.yaml"},
			{Description: "Add the English voice pack only", Command: "chunksync sync --no-game --language en-us"},
			{Description: "Stream events to another program", Command: "chunksync sync --json | jq -c 'select(.type==\"progress\")'"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("sync", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runSession(ctx, &params, "sync", false)
		},
	}
}

func verifyCommand() *cli.Command {
	var params sessionParams
	return &cli.Command{
		Name:    "verify",
		Summary: "Check an installation without downloading",
		Description: `Resolve the current build and check every local file against its
manifest checksum. Nothing is downloaded and installed files are left
untouched; the session lock file (.chunksync.lock) is still created in
the install directory. Exits 2 when any file needs repair.`,
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("verify", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return runSession(ctx, &params, "verify", true)
		},
	}
}
