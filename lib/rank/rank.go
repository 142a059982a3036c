// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package rank

import (
	"regexp"
	"sort"
	"strings"

	"github.com/fathomworks/fathom/lib/chunk"
)

// Scorer computes the relevance of one chunk to a query. Scorers are
// pure: no call order dependence, no mutation of the chunk.
type Scorer func(c chunk.Chunk, query string) float64

// Rank returns a new slice holding the chunks ordered by descending
// score, each chunk's Score field filled in. Ties keep their original
// relative order, and zero-score chunks are retained at the tail. A
// nil scorer selects TermCount.
func Rank(chunks []chunk.Chunk, query string, scorer Scorer) []chunk.Chunk {
	if scorer == nil {
		scorer = TermCount
	}
	ranked := make([]chunk.Chunk, len(chunks))
	copy(ranked, chunks)
	for i := range ranked {
		ranked[i].Score = scorer(ranked[i], query)
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})
	return ranked
}

// tokenPattern splits text into alphanumeric runs.
var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize splits text into lowercase alphanumeric tokens, discarding
// tokens shorter than 2 characters. This catches "a", "I", and other
// noise words that don't contribute to relevance ranking.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	matches := tokenPattern.FindAllString(lower, -1)

	tokens := matches[:0]
	for _, match := range matches {
		if len(match) >= 2 {
			tokens = append(tokens, match)
		}
	}
	return tokens
}

// TermCount scores a chunk by the number of times the query's terms
// occur in it, case-folded.
func TermCount(c chunk.Chunk, query string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	wanted := make(map[string]bool, len(queryTokens))
	for _, token := range queryTokens {
		wanted[token] = true
	}

	var count int
	for _, token := range tokenize(c.Content) {
		if wanted[token] {
			count++
		}
	}
	return float64(count)
}
