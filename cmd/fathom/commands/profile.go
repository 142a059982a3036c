// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fathomworks/fathom/cmd/fathom/cli"
	"github.com/fathomworks/fathom/lib/mapreduce"
	"github.com/fathomworks/fathom/lib/profile"
)

func profileCommand() *cli.Command {
	return &cli.Command{
		Name:    "profile",
		Summary: "Inspect and validate run profiles",
		Subcommands: []*cli.Command{
			profileValidateCommand(),
			profileShowCommand(),
		},
	}
}

// profileValidateCommand returns the "validate" subcommand for
// checking profile files.
func profileValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Validate a local profile JSONC file",
		Description: `Validate a profile definition file. Checks that the JSONC is
well-formed and structurally sound: the chunking strategy exists and
its pattern compiles, the ranker is known, inline programs and
program files are not both set, and the budget parses.

Profile files use JSONC: JSON extended with // line comments,
/* block comments */, and trailing commas. Comments are stripped
before validation.`,
		Usage: "fathom profile validate <file>",
		Examples: []cli.Example{
			{
				Description: "Validate a profile definition",
				Command:     "fathom profile validate review.jsonc",
			},
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: fathom profile validate <file>")
			}

			path := args[0]
			prof, err := profile.ReadFile(path)
			if err != nil {
				return err
			}

			issues := prof.Validate()
			if len(issues) > 0 {
				for _, issue := range issues {
					fmt.Fprintf(os.Stderr, "  - %s\n", issue)
				}
				return fmt.Errorf("%s: %d validation issue(s) found", path, len(issues))
			}

			fmt.Fprintf(os.Stdout, "%s: valid\n", path)
			return nil
		},
	}
}

// resolvedProfile is the JSON output of profile show: the parsed
// document with program files read in.
type resolvedProfile struct {
	*profile.Profile
	UnitProgram   string `json:"unit_program"`
	ReduceProgram string `json:"reduce_program"`
}

// profileShowCommand returns the "show" subcommand for displaying a
// profile with its programs resolved.
func profileShowCommand() *cli.Command {
	return &cli.Command{
		Name:    "show",
		Summary: "Show a profile with its programs resolved",
		Description: `Display a profile as formatted JSON with referenced program files
read in, exactly as a run would see it. Programs the profile leaves
unset show the built-in defaults.`,
		Usage: "fathom profile show <file>",
		Examples: []cli.Example{
			{
				Description: "Show the effective profile",
				Command:     "fathom profile show review.jsonc",
			},
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: fathom profile show <file>")
			}

			prof, err := profile.ReadFile(args[0])
			if err != nil {
				return err
			}
			unit, err := prof.UnitSource()
			if err != nil {
				return err
			}
			if unit == "" {
				unit = mapreduce.DefaultUnitProgram
			}
			reduce, err := prof.ReduceSource()
			if err != nil {
				return err
			}
			if reduce == "" {
				reduce = mapreduce.DefaultReduceProgram
			}

			return cli.WriteJSON(resolvedProfile{
				Profile:       prof,
				UnitProgram:   unit,
				ReduceProgram: reduce,
			})
		},
	}
}
