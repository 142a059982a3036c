// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/spf13/pflag"

	"github.com/fathomworks/fathom/cmd/fathom/cli"
	"github.com/fathomworks/fathom/lib/chunk"
	"github.com/fathomworks/fathom/lib/profile"
	"github.com/fathomworks/fathom/lib/rank"
)

// previewWidth bounds the first-line preview in the text listing.
const previewWidth = 60

// chunkReport is one row of the chunk plan listing.
type chunkReport struct {
	ID      string  `json:"id"`
	Start   int     `json:"start"`
	End     int     `json:"end"`
	Bytes   int     `json:"bytes"`
	Score   float64 `json:"score"`
	Preview string  `json:"preview"`
}

// chunkOptions holds the chunk command's flag values.
type chunkOptions struct {
	strategy  string
	chunkSize int
	overlap   int
	pattern   string
	maxLevel  int
	ranker    string
	jsonOut   bool
}

func chunkCommand() *cli.Command {
	var opts chunkOptions
	makeFlags := func() *pflag.FlagSet {
		flagSet := pflag.NewFlagSet("chunk", pflag.ContinueOnError)
		flagSet.StringVar(&opts.strategy, "strategy", "", "chunking strategy (fixed, boundary, keys, markdown)")
		flagSet.IntVar(&opts.chunkSize, "chunk-size", 0, "chunk size in bytes for the fixed strategy")
		flagSet.IntVar(&opts.overlap, "overlap", 0, "overlap in bytes for the fixed strategy")
		flagSet.StringVar(&opts.pattern, "pattern", "", "boundary regexp for the boundary strategy")
		flagSet.IntVar(&opts.maxLevel, "max-level", 0, "deepest heading level split by the markdown strategy")
		flagSet.StringVar(&opts.ranker, "ranker", "", "relevance scorer (terms, bm25)")
		flagSet.BoolVar(&opts.jsonOut, "json", false, "output the plan as JSON")
		return flagSet
	}

	return &cli.Command{
		Name:    "chunk",
		Summary: "Preview the chunking plan for a source file",
		Description: `Split a source file the way a run would and list the resulting
chunks without starting any sessions. With a query, chunks are
ranked most-relevant first and their scores shown; without one,
they appear in source order.

Useful for tuning a chunking strategy before spending model calls
on a full run.`,
		Usage: "fathom chunk [flags] <file> [query]",
		Examples: []cli.Example{
			{
				Description: "See how a markdown document splits by heading",
				Command:     "fathom chunk --strategy markdown --max-level 2 filings.md",
			},
			{
				Description: "Rank log sections against a question",
				Command:     `fathom chunk --strategy boundary --pattern '(?m)^=== ' server.log "connection resets"`,
			},
		},
		Flags: makeFlags,
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) < 1 || len(args) > 2 {
				return fmt.Errorf("usage: fathom chunk [flags] <file> [query]")
			}
			source, err := readSource(args[0])
			if err != nil {
				return err
			}
			query := ""
			if len(args) == 2 {
				query = args[1]
			}

			reports, err := chunkPlan(source, query, opts)
			if err != nil {
				return err
			}

			if opts.jsonOut {
				return cli.WriteJSON(reports)
			}
			writeChunkTable(os.Stdout, reports, query != "")
			return nil
		},
	}
}

// chunkPlan splits and optionally ranks the source, mirroring what a
// run's planning phase would produce.
func chunkPlan(source, query string, opts chunkOptions) ([]chunkReport, error) {
	strategy, err := chunk.New(chunk.Config{
		Strategy: opts.strategy,
		Size:     opts.chunkSize,
		Overlap:  opts.overlap,
		Pattern:  opts.pattern,
		MaxLevel: opts.maxLevel,
	})
	if err != nil {
		return nil, err
	}
	chunks, err := strategy.Split(source)
	if err != nil {
		return nil, err
	}

	if query != "" {
		var scorer rank.Scorer
		switch opts.ranker {
		case "", profile.RankerTerms:
		case profile.RankerBM25:
			scorer = rank.NewBM25(chunks)
		default:
			return nil, fmt.Errorf("unknown ranker %q (want terms or bm25)", opts.ranker)
		}
		chunks = rank.Rank(chunks, query, scorer)
	}

	reports := make([]chunkReport, len(chunks))
	for i, c := range chunks {
		reports[i] = chunkReport{
			ID:      c.ID,
			Start:   c.Start,
			End:     c.End,
			Bytes:   len(c.Content),
			Score:   c.Score,
			Preview: previewOf(c.Content),
		}
	}
	return reports, nil
}

// previewOf condenses content to its first non-blank line, bounded to
// previewWidth runes.
func previewOf(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > previewWidth {
			runes := []rune(line)
			return string(runes[:previewWidth-3]) + "..."
		}
		return line
	}
	return ""
}

// writeChunkTable renders the plan as an aligned listing.
func writeChunkTable(w io.Writer, reports []chunkReport, scored bool) {
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	if scored {
		fmt.Fprintln(tw, "ID\tBYTES\tSCORE\tPREVIEW")
		for _, report := range reports {
			fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\n", report.ID, report.Bytes, report.Score, report.Preview)
		}
	} else {
		fmt.Fprintln(tw, "ID\tBYTES\tPREVIEW")
		for _, report := range reports {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", report.ID, report.Bytes, report.Preview)
		}
	}
	tw.Flush()
}
