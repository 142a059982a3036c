// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package profile provides parsing and validation for analysis run
// profiles. A profile is a JSONC document (JSON extended with
// comments and trailing commas) that tunes one analysis run: how the
// source material is chunked and ranked, the Starlark programs its
// sandbox sessions execute, and the knobs that bound the run.
//
// Profiles keep run tuning out of the main configuration file, so
// they can live next to the material they describe and travel with
// it. Every profile field is optional; a zero value defers to the
// configuration file and built-in defaults.
//
// The typical flow:
//
//  1. ReadFile or Parse: JSONC bytes into a Profile
//  2. Validate: structural checks (known ranker, compiling pattern,
//     inline program XOR program file, parseable budget)
//  3. UnitSource / ReduceSource: resolve program text, reading
//     referenced files relative to the profile's directory
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/fathomworks/fathom/lib/chunk"
)

// Ranker names accepted by a profile.
const (
	RankerTerms = "terms"
	RankerBM25  = "bm25"
)

// Profile tunes a single analysis run.
type Profile struct {
	// Name identifies the profile in logs. ReadFile fills it from
	// the file stem when the document leaves it empty.
	Name string `json:"name,omitempty"`

	// Chunking splits the source material. An empty strategy selects
	// fixed-size chunking with its package defaults.
	Chunking chunk.Config `json:"chunking,omitempty"`

	// Ranker selects the relevance scorer, "terms" or "bm25". Empty
	// selects terms.
	Ranker string `json:"ranker,omitempty"`

	// UnitProgram is the program each unit session executes, inline.
	// UnitProgramFile names a file holding it instead; setting both
	// is a validation issue.
	UnitProgram     string `json:"unit_program,omitempty"`
	UnitProgramFile string `json:"unit_program_file,omitempty"`

	// ReduceProgram condenses unit reports, inline or from a file,
	// under the same rules as the unit program.
	ReduceProgram     string `json:"reduce_program,omitempty"`
	ReduceProgramFile string `json:"reduce_program_file,omitempty"`

	// Workers is the number of concurrent unit sessions. Zero defers
	// to the configuration.
	Workers int `json:"workers,omitempty"`

	// MinUnitsBeforeExit is the number of completed units required
	// before the confidence threshold can end the run early.
	MinUnitsBeforeExit int `json:"min_units_before_exit,omitempty"`

	// ConfidenceThreshold ends the run early once estimated
	// confidence reaches it. Zero defers to the configuration.
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`

	// FanOut is the number of unit reports condensed per reduction
	// step.
	FanOut int `json:"fan_out,omitempty"`

	// Budget bounds the run's wall clock, as a Go duration string.
	Budget string `json:"budget,omitempty"`

	// dir resolves relative program file paths. Set by ReadFile.
	dir string
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Profile.
func Parse(data []byte) (*Profile, error) {
	stripped := jsonc.ToJSON(data)

	var profile Profile
	if err := json.Unmarshal(stripped, &profile); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}

	return &profile, nil
}

// ReadFile reads a JSONC profile from disk. Relative program file
// paths inside the profile later resolve against the profile's own
// directory. A profile that does not name itself is named after the
// file stem.
func ReadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	profile, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	profile.dir = filepath.Dir(path)
	if profile.Name == "" {
		profile.Name = NameFromPath(path)
	}
	return profile, nil
}

// NameFromPath extracts a profile name from a file path by stripping
// the directory prefix and the file extension. For example,
// "profiles/incident-review.jsonc" returns "incident-review".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}

// Validate checks a Profile for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the profile
// is valid.
func (p *Profile) Validate() []string {
	var issues []string

	if _, err := chunk.New(p.Chunking); err != nil {
		issues = append(issues, err.Error())
	}
	if p.Chunking.Size < 0 {
		issues = append(issues, fmt.Sprintf("chunking.size must not be negative, got %d", p.Chunking.Size))
	}
	if p.Chunking.Overlap < 0 {
		issues = append(issues, fmt.Sprintf("chunking.overlap must not be negative, got %d", p.Chunking.Overlap))
	}
	if p.Chunking.Size > 0 && p.Chunking.Overlap >= p.Chunking.Size {
		issues = append(issues, fmt.Sprintf(
			"chunking.overlap %d must be smaller than chunking.size %d",
			p.Chunking.Overlap, p.Chunking.Size,
		))
	}

	switch p.Ranker {
	case "", RankerTerms, RankerBM25:
	default:
		issues = append(issues, fmt.Sprintf("ranker must be %q or %q, got %q", RankerTerms, RankerBM25, p.Ranker))
	}

	if p.UnitProgram != "" && p.UnitProgramFile != "" {
		issues = append(issues, "unit_program and unit_program_file are mutually exclusive")
	}
	if p.ReduceProgram != "" && p.ReduceProgramFile != "" {
		issues = append(issues, "reduce_program and reduce_program_file are mutually exclusive")
	}

	if p.Workers < 0 {
		issues = append(issues, fmt.Sprintf("workers must not be negative, got %d", p.Workers))
	}
	if p.MinUnitsBeforeExit < 0 {
		issues = append(issues, fmt.Sprintf("min_units_before_exit must not be negative, got %d", p.MinUnitsBeforeExit))
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		issues = append(issues, fmt.Sprintf("confidence_threshold must be between 0 and 1, got %g", p.ConfidenceThreshold))
	}
	if p.FanOut < 0 {
		issues = append(issues, fmt.Sprintf("fan_out must not be negative, got %d", p.FanOut))
	}

	if p.Budget != "" {
		if _, err := time.ParseDuration(p.Budget); err != nil {
			issues = append(issues, fmt.Sprintf("budget: invalid duration %q", p.Budget))
		}
	}

	return issues
}

// UnitSource returns the unit program text, reading UnitProgramFile
// when it is set. Empty means the caller's default program.
func (p *Profile) UnitSource() (string, error) {
	return p.programSource(p.UnitProgram, p.UnitProgramFile)
}

// ReduceSource returns the reduce program text, reading
// ReduceProgramFile when it is set.
func (p *Profile) ReduceSource() (string, error) {
	return p.programSource(p.ReduceProgram, p.ReduceProgramFile)
}

func (p *Profile) programSource(inline, file string) (string, error) {
	if file == "" {
		return inline, nil
	}
	if !filepath.IsAbs(file) && p.dir != "" {
		file = filepath.Join(p.dir, file)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading program: %w", err)
	}
	return string(data), nil
}
