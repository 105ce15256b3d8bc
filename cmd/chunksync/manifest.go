// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/chunksync/cmd/chunksync/cli"
	"github.com/bureau-foundation/chunksync/lib/checksum"
	"github.com/bureau-foundation/chunksync/lib/codec"
	"github.com/bureau-foundation/chunksync/lib/compress"
	"github.com/bureau-foundation/chunksync/lib/fetch"
	"github.com/bureau-foundation/chunksync/lib/manifest"
)

func manifestCommand() *cli.Command {
	return &cli.Command{
		Name:        "manifest",
		Summary:     "Work with manifest blobs",
		Subcommands: []*cli.Command{manifestInspectCommand()},
	}
}

type inspectParams struct {
	cli.JSONOutput
	Checksum string `flag:"checksum" default:"md5" desc:"algorithm for the manifest digest"`
	Chunks   bool   `flag:"chunks" desc:"list every chunk"`
	Raw      bool   `flag:"raw" desc:"print the decoded CBOR in diagnostic notation"`
}

// inspectReport is the --json form of manifest inspect.
type inspectReport struct {
	Format    string               `json:"format"`
	Size      int                  `json:"size"`
	Checksum  string               `json:"checksum"`
	Files     int                  `json:"files"`
	Folders   int                  `json:"folders"`
	TotalSize int64                `json:"total_size"`
	Chunks    int                  `json:"chunks"`
	Entries   []manifest.FileEntry `json:"entries"`
}

func manifestInspectCommand() *cli.Command {
	var params inspectParams
	return &cli.Command{
		Name:    "inspect",
		Summary: "Decode, validate and print a manifest blob",
		Usage:   "chunksync manifest inspect [flags] <blob>",
		Description: `Decompress a manifest blob (zstd or LZ4, detected from the frame
magic), decode it, validate every entry, and print its files. The
digest printed is the one a build descriptor carries for it.`,
		Examples: []cli.Example{
			{Description: "List a downloaded manifest", Command: "chunksync manifest inspect manifest_game_9f2c"},
		},
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("inspect", &params) },
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("usage: chunksync manifest inspect [flags] <blob>")
			}
			if params.Raw {
				return printRawManifest(args[0])
			}
			report, err := inspectManifest(args[0], params.Checksum)
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(report); done {
				return err
			}
			printManifest(report, params.Chunks)
			return nil
		},
	}
}

func inspectManifest(path, algorithmName string) (*inspectReport, error) {
	algorithm, err := checksum.Lookup(algorithmName)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format, err := compress.Detect(blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	data, err := compress.Decompress(bytes.NewReader(blob), fetch.MaxManifestSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	decoded, err := manifest.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	report := &inspectReport{
		Format:    format.String(),
		Size:      len(data),
		Checksum:  algorithm.Sum(data),
		Files:     decoded.FileCount(),
		TotalSize: decoded.TotalSize(),
		Entries:   decoded.Files,
	}
	for _, entry := range decoded.Files {
		if entry.Folder {
			report.Folders++
		}
		report.Chunks += len(entry.Chunks)
	}
	return report, nil
}

// printRawManifest prints the manifest without decoding it into
// entries, so unknown keys and malformed entries stay visible.
func printRawManifest(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	data, err := compress.Decompress(file, fetch.MaxManifestSize)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	notation, err := codec.Diagnose(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fmt.Println(notation)
	return nil
}

func printManifest(report *inspectReport, withChunks bool) {
	fmt.Printf("format:   %s\n", report.Format)
	fmt.Printf("checksum: %s (%d bytes decoded)\n", report.Checksum, report.Size)
	fmt.Printf("files:    %d (%s), %d folders, %d chunks\n\n",
		report.Files, humanize.IBytes(uint64(max(report.TotalSize, 0))), report.Folders, report.Chunks)

	tw := tabwriter.NewWriter(os.Stdout, 2, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSIZE\tCHUNKS\tCHECKSUM")
	for _, entry := range report.Entries {
		if entry.Folder {
			fmt.Fprintf(tw, "%s/\t-\t-\t-\n", entry.Path)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", entry.Path, humanize.IBytes(uint64(max(entry.Size, 0))), len(entry.Chunks), entry.Checksum)
		if withChunks {
			for _, chunk := range entry.Chunks {
				fmt.Fprintf(tw, "  %s\t@%d +%d\t%s\t%s\n", chunk.ID, chunk.Offset, chunk.UncompressedSize,
					humanize.IBytes(uint64(max(chunk.CompressedSize, 0))), chunk.Checksum)
			}
		}
	}
	tw.Flush()
}
