// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fathomworks/fathom/cmd/fathom/cli"
	"github.com/fathomworks/fathom/cmd/fathom/commands"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like a cancelled run)
		// return an ExitError with the desired exit code. Don't print
		// a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := cli.NewCommandLogger(logLevel())
	return commands.Root().Execute(ctx, os.Args[1:], logger)
}

// logLevel reads FATHOM_LOG_LEVEL. Unset or unparseable means info.
func logLevel() slog.Level {
	var level slog.Level
	if value := os.Getenv("FATHOM_LOG_LEVEL"); value != "" {
		if err := level.UnmarshalText([]byte(value)); err == nil {
			return level
		}
	}
	return slog.LevelInfo
}
