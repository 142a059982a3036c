// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"fmt"
	"regexp"
)

// Strategy names accepted by New.
const (
	StrategyFixed    = "fixed"
	StrategyBoundary = "boundary"
	StrategyKeys     = "keys"
	StrategyMarkdown = "markdown"
)

// Defaults for the fixed-size strategy.
const (
	DefaultSize    = 50000
	DefaultOverlap = 2000
)

// Config selects and parameterizes a strategy by name, for callers
// driven by profiles or command-line flags.
type Config struct {
	Strategy string `json:"strategy"`
	Size     int    `json:"size,omitempty"`
	Overlap  int    `json:"overlap,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
	MaxLevel int    `json:"max_level,omitempty"`
}

// New builds the configured strategy. An empty strategy name selects
// fixed-size chunking; a zero size selects the package defaults for
// both size and overlap, while an explicit size keeps the overlap
// exactly as given.
func New(config Config) (Strategy, error) {
	switch config.Strategy {
	case StrategyFixed, "":
		size, overlap := config.Size, config.Overlap
		if size == 0 {
			size = DefaultSize
			if overlap == 0 {
				overlap = DefaultOverlap
			}
		}
		return FixedSize{Size: size, Overlap: overlap}, nil
	case StrategyBoundary:
		if config.Pattern == "" {
			return nil, fmt.Errorf("chunk config: boundary strategy requires a pattern")
		}
		pattern, err := regexp.Compile(config.Pattern)
		if err != nil {
			return nil, fmt.Errorf("chunk config: compiling pattern: %w", err)
		}
		return Boundary{Pattern: pattern}, nil
	case StrategyKeys:
		return Keys{}, nil
	case StrategyMarkdown:
		return Markdown{MaxLevel: config.MaxLevel}, nil
	default:
		return nil, fmt.Errorf("chunk config: unknown strategy %q (want fixed, boundary, keys, or markdown)", config.Strategy)
	}
}
