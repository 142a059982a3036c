// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fathomworks/fathom/cmd/fathom/cli"
	"github.com/fathomworks/fathom/lib/version"
)

// Root builds and returns the complete fathom CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "fathom",
		Description: `Fathom: long-context analysis over sandboxed Starlark sessions.

Source material is split into chunks, each chunk is analyzed by a
program running in an isolated worker process with model callbacks,
and the per-chunk reports are reduced into one synthesis. Analysis
results are cached, outputs are redacted and summarized, and runs
respect wall-clock budgets.`,
		Subcommands: []*cli.Command{
			runCommand(),
			execCommand(),
			chunkCommand(),
			profileCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("fathom %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Analyze a document against a question",
				Command:     `fathom run filings.md "what new risk factors are disclosed?"`,
			},
			{
				Description: "Run with a profile and a wall-clock budget",
				Command:     `fathom run --profile review.jsonc --budget 10m transcript.txt "who approved the change?"`,
			},
			{
				Description: "Preview how a file chunks before running",
				Command:     "fathom chunk --strategy markdown filings.md",
			},
			{
				Description: "Execute a Starlark program in one root session",
				Command:     "fathom exec triage.star --var incident=INC-2113",
			},
			{
				Description: "Validate a profile without running it",
				Command:     "fathom profile validate review.jsonc",
			},
		},
	}
}
