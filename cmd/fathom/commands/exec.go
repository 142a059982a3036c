// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/fathomworks/fathom/cmd/fathom/cli"
	"github.com/fathomworks/fathom/lib/mapreduce"
	"github.com/fathomworks/fathom/lib/session"
)

// execOptions holds the exec command's flag values.
type execOptions struct {
	profilePath string
	vars        []string
	timeout     time.Duration
	jsonOut     bool
}

func execCommand() *cli.Command {
	var opts execOptions
	makeFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("exec", pflag.ContinueOnError)
		flagSet.StringVar(&opts.profilePath, "profile", "", "JSONC profile applied to delegated runs")
		flagSet.StringArrayVar(&opts.vars, "var", nil, "key=value variable injected into the program (repeatable)")
		flagSet.DurationVar(&opts.timeout, "timeout", 0, "execution timeout (0 uses the configured default)")
		flagSet.BoolVar(&opts.jsonOut, "json", false, "output the full execution result as JSON")
		return flagSet
	}

	return &cli.Command{
		Name:    "exec",
		Summary: "Execute a Starlark program in one root session",
		Description: `Run a Starlark program in a fresh sandboxed session with the full
callback surface: model queries, blob storage, and delegation of
bounded sub-analyses. The session is a root session, so the program
may call delegate(content, query) to fan a long document out to a
map-reduce run; the sessions that run spawns are leaves and cannot
delegate further.

Variables passed with --var are injected into the program's
namespace as strings. The program's final_result value is printed
to stdout; its print output and the worker's logs go to stderr.`,
		Usage: "fathom exec [flags] <program.star>",
		Examples: []cli.Example{
			{
				Description: "Run a triage program with an incident variable",
				Command:     "fathom exec triage.star --var incident=INC-2113",
			},
			{
				Description: "Pipe a one-liner from stdin",
				Command:     `echo 'final_result(llm_query("say hello"))' | fathom exec -`,
			},
		},
		Flags: makeFlags,
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: fathom exec [flags] <program.star>")
			}

			code, err := readSource(args[0])
			if err != nil {
				return err
			}
			variables, err := parseVars(opts.vars)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			prof, err := loadProfile(opts.profilePath)
			if err != nil {
				return err
			}
			delegateCfg, err := runSettings(cfg, prof, runOptions{}, func(string) bool { return false })
			if err != nil {
				return err
			}

			env, err := openEnv(cfg, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			delegateCfg.Channels = env.factory
			delegateCfg.Querier = env.querier
			delegateCfg.Cache = env.cache
			delegateCfg.Store = env.store
			delegateCfg.Guard = env.guard
			delegateCfg.Logger = logger

			// The root session gets the delegate capability; sessions
			// spawned by delegated runs do not.
			channel, err := env.factory(true)
			if err != nil {
				return err
			}
			sessionCfg := session.Config{
				Channel: channel,
				Callbacks: session.Callbacks{
					Querier:    env.querier,
					BatchLimit: cfg.Run.BatchLimit,
					Store:      env.store,
					Delegate:   mapreduce.Delegate(delegateCfg),
				},
				Guard:           env.guard,
				IdleTimeout:     durationOf(cfg.Session.IdleTimeout),
				AbsoluteTimeout: durationOf(cfg.Session.AbsoluteTimeout),
				ExecuteTimeout:  durationOf(cfg.Session.ExecuteTimeout),
				Logger:          logger,
			}

			if cfg.Session.TranscriptDir != "" {
				transcript, err := openTranscript(cfg.Session.TranscriptDir)
				if err != nil {
					return err
				}
				defer transcript.Close()
				sessionCfg.Transcript = transcript
			}

			return session.WithSession(ctx, sessionCfg, func(ctx context.Context, s *session.Session) error {
				result, err := s.Execute(ctx, session.Request{
					Code:      code,
					Variables: variables,
					Timeout:   opts.timeout,
				})
				if err != nil {
					return err
				}
				return emitExecResult(result, opts.jsonOut)
			})
		},
	}
}

// parseVars turns repeated key=value flags into an injection map.
func parseVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	variables := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", pair)
		}
		if key == "" {
			return nil, fmt.Errorf("invalid --var %q: empty key", pair)
		}
		variables[key] = value
	}
	return variables, nil
}

// openTranscript creates a fresh JSONL transcript file in dir.
func openTranscript(dir string) (*os.File, error) {
	name := fmt.Sprintf("exec-%s.jsonl", time.Now().UTC().Format("20060102-150405"))
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening transcript: %w", err)
	}
	return file, nil
}

// emitExecResult renders one execution outcome. The final value goes
// to stdout; program print output and error details go to stderr. A
// failed execution exits non-zero.
func emitExecResult(result *session.Result, jsonOut bool) error {
	if jsonOut {
		if err := cli.WriteJSON(result); err != nil {
			return err
		}
		if result.Failed() {
			return &cli.ExitError{Code: 1}
		}
		return nil
	}

	if text := result.Stdout.Value(); text != "" {
		fmt.Fprintln(os.Stderr, text)
	}
	if text := result.Stderr.Value(); text != "" {
		fmt.Fprintln(os.Stderr, text)
	}
	if result.Failed() {
		detail := "unknown error"
		if result.Error != nil {
			detail = result.Error.String()
		}
		fmt.Fprintf(os.Stderr, "execution failed: %s\n", detail)
		return &cli.ExitError{Code: 1}
	}
	if len(result.Final) > 0 {
		fmt.Println(finalDisplay(result.Final))
	}
	return nil
}

// finalDisplay renders a final value for the terminal: JSON strings
// print bare, everything else prints in its JSON form.
func finalDisplay(final json.RawMessage) string {
	var text string
	if err := json.Unmarshal(final, &text); err == nil {
		return text
	}
	return string(final)
}
