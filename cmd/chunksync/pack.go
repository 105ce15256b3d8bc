// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chunksync/cmd/chunksync/cli"
	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/compress"
	"github.com/bureau-foundation/chunksync/lib/pack"
)

type packParams struct {
	cli.JSONOutput
	Output    string   `flag:"output,o" desc:"directory receiving the published tree (required)"`
	Tag       string   `flag:"tag" desc:"build version tag (required)"`
	BaseURL   string   `flag:"base-url" desc:"URL the output directory will be served from"`
	Assets    []string `flag:"asset" desc:"key=directory pair, repeatable (required)"`
	ChunkSize int64    `flag:"chunk-size" default:"1048576" desc:"uncompressed chunk size in bytes"`
	Format    string   `flag:"format" default:"zstd" desc:"chunk and manifest compression: zstd or lz4"`
	Checksum  string   `flag:"checksum" default:"md5" desc:"digest algorithm"`
}

// packSummary is the --json form of pack.
type packSummary struct {
	Tag    string        `json:"tag"`
	Assets []packedAsset `json:"assets"`
}

type packedAsset struct {
	Key          string `json:"key"`
	ManifestID   string `json:"manifest_id"`
	Files        int    `json:"files"`
	Bytes        int64  `json:"bytes"`
	Chunks       int    `json:"chunks"`
	UniqueChunks int    `json:"unique_chunks"`
}

func packCommand() *cli.Command {
	var params packParams
	return &cli.Command{
		Name:    "pack",
		Summary: "Publish directories as a chunked build",
		Description: `Split every file of each asset directory into fixed-size chunks,
compress and store them by content, write one manifest per asset, and
write build.json last. Serve the output directory over HTTP and point
build.url at <base-url>/build.json, or set build.descriptor_file to
the local build.json.`,
		Examples: []cli.Example{
			{
				Description: "Publish a game and an English voice pack",
				Command:     "chunksync pack --tag 5.1.0 --asset game=./Game --asset en-us=./Audio_en --base-url https://mirror.example.com/5.1.0 -o ./www/5.1.0",
			},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("pack", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			options, err := params.options()
			if err != nil {
				return err
			}
			logger := cli.NewCommandLogger(slog.LevelInfo).With("command", "pack")
			if params.OutputJSON {
				logger = slog.New(slog.DiscardHandler)
			}
			options.Logger = logger

			if err := os.MkdirAll(params.Output, 0o755); err != nil {
				return err
			}
			result, err := pack.Pack(ctx, options, pack.DirSink{Root: params.Output})
			if err != nil {
				return err
			}

			summary := packSummary{Tag: result.Descriptor.Tag}
			for _, asset := range result.Assets {
				summary.Assets = append(summary.Assets, packedAsset{
					Key:          asset.Ref.Key,
					ManifestID:   asset.Ref.ManifestID,
					Files:        asset.Manifest.FileCount(),
					Bytes:        asset.Manifest.TotalSize(),
					Chunks:       asset.Chunks,
					UniqueChunks: asset.UniqueChunks,
				})
			}
			if done, err := params.EmitJSON(summary); done {
				return err
			}
			for _, asset := range summary.Assets {
				fmt.Printf("%s: %d files, %s, %d chunks (%d stored)\n",
					asset.Key, asset.Files, humanize.IBytes(uint64(max(asset.Bytes, 0))), asset.Chunks, asset.UniqueChunks)
			}
			fmt.Printf("build %s written to %s\n", summary.Tag, params.Output)
			return nil
		},
	}
}

func (params *packParams) options() (pack.Options, error) {
	var errs []error
	if params.Output == "" {
		errs = append(errs, errors.New("--output is required"))
	}
	if params.Tag == "" {
		errs = append(errs, errors.New("--tag is required"))
	}
	if len(params.Assets) == 0 {
		errs = append(errs, errors.New("at least one --asset key=directory is required"))
	}
	if params.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("--chunk-size %d must be positive", params.ChunkSize))
	}
	format, err := compress.ParseFormat(params.Format)
	if err != nil {
		errs = append(errs, fmt.Errorf("--format: %w", err))
	}
	algorithm, err := checksum.Lookup(params.Checksum)
	if err != nil {
		errs = append(errs, fmt.Errorf("--checksum: %w", err))
	}

	var assets []pack.Asset
	for _, pair := range params.Assets {
		key, directory, ok := strings.Cut(pair, "=")
		if !ok || key == "" || directory == "" {
			errs = append(errs, fmt.Errorf("--asset %q: want key=directory", pair))
			continue
		}
		info, err := os.Stat(directory)
		if err != nil {
			errs = append(errs, fmt.Errorf("--asset %s: %w", key, err))
			continue
		}
		if !info.IsDir() {
			errs = append(errs, fmt.Errorf("--asset %s: %s is not a directory", key, directory))
			continue
		}
		assets = append(assets, pack.Asset{Key: key, Source: directory})
	}
	if err := errors.Join(errs...); err != nil {
		return pack.Options{}, err
	}

	return pack.Options{
		Tag:       params.Tag,
		Assets:    assets,
		BaseURL:   params.BaseURL,
		ChunkSize: params.ChunkSize,
		Format:    format,
		Algorithm: algorithm,
	}, nil
}
