// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the chunksync binary.
//
// [Command] is a named node with optional [Command.Subcommands], a
// [pflag.FlagSet] factory, and a context-aware Run function. A tree is
// dispatched with [Command.Execute], which parses flags, routes
// subcommands, and prints help with examples. Unknown commands and
// flags get a "did you mean" suggestion when one is within edit
// distance 3.
//
// Flags are usually declared as tagged struct fields and bound with
// [FlagsFromParams]. [ExitError] carries a non-zero exit code for
// outcomes the command has already reported, and [NewCommandLogger]
// builds the process logger.
package cli
