// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"fmt"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// markdownParser is initialized once and reused. The configuration
// never changes and the goldmark parser is safe to share; parsing
// keeps its per-call state in the reader.
var (
	markdownParser     goldmark.Markdown
	markdownParserOnce sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParser = goldmark.New()
	})
	return markdownParser
}

// Markdown splits a source before each section heading of level
// MaxLevel or shallower. MaxLevel 0 means every heading level.
// Headings nested inside other blocks (quotes, lists) are not section
// boundaries. A source without headings is a single chunk.
type Markdown struct {
	MaxLevel int
}

func (s Markdown) Split(source string) ([]Chunk, error) {
	maxLevel := s.MaxLevel
	if maxLevel == 0 {
		maxLevel = 6
	}

	document := getMarkdownParser().Parser().Parse(text.NewReader([]byte(source)))

	var offsets []int
	err := ast.Walk(document, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, isHeading := node.(*ast.Heading)
		if !isHeading {
			return ast.WalkContinue, nil
		}
		if heading.Parent() != document || heading.Level > maxLevel || heading.Lines().Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		// Lines() covers the heading text; back up to the start of
		// the physical line so the marker stays with its section.
		start := heading.Lines().At(0).Start
		offsets = append(offsets, strings.LastIndexByte(source[:start], '\n')+1)
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, fmt.Errorf("markdown chunking: %w", err)
	}
	return fromBoundaries(source, offsets), nil
}
