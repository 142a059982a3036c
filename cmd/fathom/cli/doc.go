// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command tree framework for the fathom
// binary: declarative commands with nested subcommands, pflag flag
// sets, structured help output, typo suggestions for unknown commands
// and flags, and shared output helpers.
//
// Commands receive a context cancelled on SIGINT/SIGTERM and a
// structured logger whose handler follows the output destination:
// text for terminals, JSON when stderr is piped.
package cli
