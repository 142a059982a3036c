// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/fathomworks/fathom/cmd/fathom/cli"
	"github.com/fathomworks/fathom/lib/chunk"
	"github.com/fathomworks/fathom/lib/config"
	"github.com/fathomworks/fathom/lib/mapreduce"
	"github.com/fathomworks/fathom/lib/profile"
	"github.com/fathomworks/fathom/lib/rank"
)

// runOptions holds the run command's flag values. Flags override the
// profile, which overrides the configuration file.
type runOptions struct {
	profilePath string
	strategy    string
	chunkSize   int
	overlap     int
	pattern     string
	maxLevel    int
	ranker      string
	workers     int
	minUnits    int
	threshold   float64
	fanOut      int
	budget      time.Duration
	noCache     bool
	jsonOut     bool
}

func runCommand() *cli.Command {
	var opts runOptions
	var flagSet *pflag.FlagSet
	makeFlags := func() *pflag.FlagSet {
		flagSet = pflag.NewFlagSet("run", pflag.ContinueOnError)
		flagSet.StringVar(&opts.profilePath, "profile", "", "JSONC run profile")
		flagSet.StringVar(&opts.strategy, "strategy", "", "chunking strategy (fixed, boundary, keys, markdown)")
		flagSet.IntVar(&opts.chunkSize, "chunk-size", 0, "chunk size in bytes for the fixed strategy")
		flagSet.IntVar(&opts.overlap, "overlap", 0, "overlap in bytes for the fixed strategy")
		flagSet.StringVar(&opts.pattern, "pattern", "", "boundary regexp for the boundary strategy")
		flagSet.IntVar(&opts.maxLevel, "max-level", 0, "deepest heading level split by the markdown strategy")
		flagSet.StringVar(&opts.ranker, "ranker", "", "relevance scorer (terms, bm25)")
		flagSet.IntVar(&opts.workers, "workers", 0, "concurrent unit sessions")
		flagSet.IntVar(&opts.minUnits, "min-units", 0, "units required before early exit")
		flagSet.Float64Var(&opts.threshold, "threshold", 0, "confidence threshold for early exit (0 disables)")
		flagSet.IntVar(&opts.fanOut, "fan-out", 0, "reports condensed per reduction step")
		flagSet.DurationVar(&opts.budget, "budget", 0, "wall-clock budget for the run (0 means unbounded)")
		flagSet.BoolVar(&opts.noCache, "no-cache", false, "analyze every unit even when cached")
		flagSet.BoolVar(&opts.jsonOut, "json", false, "output the full run result as JSON")
		return flagSet
	}

	return &cli.Command{
		Name:    "run",
		Summary: "Analyze source material with a map-reduce run",
		Description: `Split a source file into chunks, analyze each chunk in a sandboxed
worker session ranked most-relevant first, and reduce the per-chunk
reports into one synthesis.

Runs exit early once the confidence estimate clears the threshold,
serve repeated chunk analyses from the cache, and respect a
wall-clock budget. Interrupting a run (Ctrl-C) lets in-flight chunk
executions finish, skips the rest, and reports what completed.

Parameters resolve in three layers: the configuration file supplies
defaults, a --profile overrides them, and explicit flags override
both. Reading from standard input is supported with "-" as the file.`,
		Usage: "fathom run [flags] <file> <query>",
		Examples: []cli.Example{
			{
				Description: "Analyze a document against a question",
				Command:     `fathom run filings.md "what new risk factors are disclosed?"`,
			},
			{
				Description: "Early exit at 90% confidence, at most 4 workers",
				Command:     `fathom run --threshold 0.9 --workers 4 audit.log "when did the leak start?"`,
			},
			{
				Description: "Pipe material in and collect the result as JSON",
				Command:     `journalctl -u api | fathom run --json - "why did the service restart?"`,
			},
		},
		Flags: makeFlags,
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 2 {
				return fmt.Errorf("usage: fathom run [flags] <file> <query>")
			}
			sourcePath, query := args[0], args[1]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			source, err := readSource(sourcePath)
			if err != nil {
				return err
			}
			prof, err := loadProfile(opts.profilePath)
			if err != nil {
				return err
			}

			runCfg, err := runSettings(cfg, prof, opts, flagSet.Changed)
			if err != nil {
				return err
			}

			env, err := openEnv(cfg, logger)
			if err != nil {
				return err
			}
			defer env.Close()

			runCfg.Channels = env.factory
			runCfg.Querier = env.querier
			runCfg.Store = env.store
			runCfg.Guard = env.guard
			runCfg.Logger = logger
			if !opts.noCache {
				runCfg.Cache = env.cache
			}

			result, err := mapreduce.Run(ctx, source, query, runCfg)
			if err != nil {
				return err
			}
			return emitRunResult(result, opts.jsonOut)
		},
	}
}

// runSettings resolves the layered run parameters into a mapreduce
// configuration: file defaults, then profile, then explicit flags.
// Collaborators (channels, querier, storage, guard) are attached by
// the caller.
func runSettings(cfg *config.Config, prof *profile.Profile, opts runOptions, changed func(string) bool) (mapreduce.Config, error) {
	runCfg := mapreduce.Config{
		Workers:             cfg.Run.Workers,
		MinUnitsBeforeExit:  cfg.Run.MinUnitsBeforeExit,
		ConfidenceThreshold: cfg.Run.ConfidenceThreshold,
		FanOut:              cfg.Run.FanOut,
		Budget:              durationOf(cfg.Run.Budget),
		BatchLimit:          cfg.Run.BatchLimit,
		ExecuteTimeout:      durationOf(cfg.Session.ExecuteTimeout),
	}

	ranker := ""
	if prof != nil {
		runCfg.Chunking = prof.Chunking
		ranker = prof.Ranker
		if prof.Workers > 0 {
			runCfg.Workers = prof.Workers
		}
		if prof.MinUnitsBeforeExit > 0 {
			runCfg.MinUnitsBeforeExit = prof.MinUnitsBeforeExit
		}
		if prof.ConfidenceThreshold > 0 {
			runCfg.ConfidenceThreshold = prof.ConfidenceThreshold
		}
		if prof.FanOut > 0 {
			runCfg.FanOut = prof.FanOut
		}
		if prof.Budget != "" {
			runCfg.Budget = durationOf(prof.Budget)
		}

		unit, err := prof.UnitSource()
		if err != nil {
			return mapreduce.Config{}, err
		}
		runCfg.UnitProgram = unit
		reduce, err := prof.ReduceSource()
		if err != nil {
			return mapreduce.Config{}, err
		}
		runCfg.ReduceProgram = reduce
	}

	if changed("strategy") {
		runCfg.Chunking.Strategy = opts.strategy
	}
	if changed("chunk-size") {
		runCfg.Chunking.Size = opts.chunkSize
	}
	if changed("overlap") {
		runCfg.Chunking.Overlap = opts.overlap
	}
	if changed("pattern") {
		runCfg.Chunking.Pattern = opts.pattern
	}
	if changed("max-level") {
		runCfg.Chunking.MaxLevel = opts.maxLevel
	}
	if changed("ranker") {
		ranker = opts.ranker
	}
	if changed("workers") {
		runCfg.Workers = opts.workers
	}
	if changed("min-units") {
		runCfg.MinUnitsBeforeExit = opts.minUnits
	}
	if changed("threshold") {
		runCfg.ConfidenceThreshold = opts.threshold
	}
	if changed("fan-out") {
		runCfg.FanOut = opts.fanOut
	}
	if changed("budget") {
		runCfg.Budget = opts.budget
	}

	switch ranker {
	case "", profile.RankerTerms:
	case profile.RankerBM25:
		runCfg.Ranker = rank.NewBM25
	default:
		return mapreduce.Config{}, fmt.Errorf("unknown ranker %q (want terms or bm25)", ranker)
	}
	if _, err := chunk.New(runCfg.Chunking); err != nil {
		return mapreduce.Config{}, err
	}

	return runCfg, nil
}

// loadProfile reads and validates a profile. An empty path means no
// profile.
func loadProfile(path string) (*profile.Profile, error) {
	if path == "" {
		return nil, nil
	}
	prof, err := profile.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if issues := prof.Validate(); len(issues) > 0 {
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "  - %s\n", issue)
		}
		return nil, fmt.Errorf("%s: %d validation issue(s) found", path, len(issues))
	}
	return prof, nil
}

// readSource reads the analysis material, from stdin when path is
// "-".
func readSource(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading source: %w", err)
	}
	return string(data), nil
}

// emitRunResult writes the run outcome. The synthesis goes to stdout;
// counters go to stderr so pipelines see only the answer. A cancelled
// run exits non-zero after reporting what completed.
func emitRunResult(result *mapreduce.RunResult, jsonOut bool) error {
	cancelled := result.Phase == mapreduce.PhaseCancelled

	if jsonOut {
		if err := cli.WriteJSON(result); err != nil {
			return err
		}
		if cancelled {
			return &cli.ExitError{Code: 1}
		}
		return nil
	}

	fmt.Fprintf(os.Stderr, "%d processed, %d cached, %d skipped, %d errored (confidence %.2f)\n",
		result.Processed, result.Cached, result.Skipped, result.Errored, result.Confidence)
	if cancelled {
		fmt.Fprintln(os.Stderr, "run cancelled before synthesis")
		return &cli.ExitError{Code: 1}
	}
	fmt.Println(result.Synthesis)
	return nil
}
