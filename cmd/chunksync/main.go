// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/chunksync/cmd/chunksync/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root().Execute(ctx, os.Args[1:])
	stop()

	code, report := cli.ExitCode(err)
	if report {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(code)
}

func root() *cli.Command {
	return &cli.Command{
		Name:        "chunksync",
		Description: "Install, update and verify chunked game builds.",
		Subcommands: []*cli.Command{
			syncCommand(),
			verifyCommand(),
			manifestCommand(),
			packCommand(),
		},
	}
}
