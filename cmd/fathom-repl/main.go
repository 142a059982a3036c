// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// fathom-repl is the sandboxed execution worker. The host session
// manager spawns one per session and speaks newline-delimited JSON
// frames over stdin and stdout; stderr carries worker logs, which the
// host relays at debug level.
//
// The worker holds a single Starlark runtime whose namespace persists
// across execute frames. Capabilities are granted by flag at spawn
// and cannot be widened afterwards:
//
//	--allow-delegate       bind the live delegate primitive (root sessions)
//	--max-callback-calls   callback budget across the session
//	--max-executions       execute budget across the session
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/fathomworks/fathom/lib/process"
	"github.com/fathomworks/fathom/lib/repl"
	"github.com/fathomworks/fathom/lib/version"
	"github.com/fathomworks/fathom/lib/wire"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		allowDelegate    bool
		maxCallbackCalls int
		maxExecutions    int
		logLevel         string
	)

	flagSet := pflag.NewFlagSet("fathom-repl", pflag.ContinueOnError)
	flagSet.BoolVar(&allowDelegate, "allow-delegate", false,
		"bind the live delegate primitive (root sessions only)")
	flagSet.IntVar(&maxCallbackCalls, "max-callback-calls", repl.DefaultMaxCallbackCalls,
		"callback call budget for the whole session")
	flagSet.IntVar(&maxExecutions, "max-executions", repl.DefaultMaxExecutions,
		"execute request budget for the whole session")
	flagSet.StringVar(&logLevel, "log-level", "info",
		"stderr log level (debug, info, warn, error)")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Println("fathom-repl " + version.Info())
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("worker ready",
		"allow_delegate", allowDelegate,
		"max_callback_calls", maxCallbackCalls,
		"max_executions", maxExecutions)

	transport := &stdioTransport{
		decoder: wire.NewDecoder(os.Stdin),
		encoder: wire.NewEncoder(os.Stdout),
	}
	return repl.Serve(transport, repl.Config{
		AllowDelegate:    allowDelegate,
		MaxCallbackCalls: maxCallbackCalls,
		MaxExecutions:    maxExecutions,
	}, logger)
}

// stdioTransport frames the protocol over the process's own stdin and
// stdout. Everything else the worker says goes to stderr; a stray
// write to stdout would corrupt the stream.
type stdioTransport struct {
	decoder *wire.Decoder
	encoder *wire.Encoder
}

func (t *stdioTransport) Send(frame *wire.Frame) error { return t.encoder.Encode(frame) }

func (t *stdioTransport) Receive() (*wire.Frame, error) { return t.decoder.Decode() }
