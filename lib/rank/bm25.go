// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package rank

import (
	"math"

	"github.com/fathomworks/fathom/lib/chunk"
)

// BM25 parameters (Okapi variant, standard values).
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

type documentStats struct {
	termFrequency map[string]int
	length        float64
}

// NewBM25 builds an Okapi BM25 scorer closed over the corpus
// statistics of the given chunks. The returned scorer is pure per
// (chunk, query) call and safe for concurrent use; a chunk whose id
// is not in the corpus is tokenized on the fly and scored against the
// same corpus statistics.
func NewBM25(chunks []chunk.Chunk) Scorer {
	stats := make(map[string]documentStats, len(chunks))
	documentFrequency := make(map[string]int)
	var totalLength int

	for _, c := range chunks {
		tokens := tokenize(c.Content)
		totalLength += len(tokens)

		termFrequency := make(map[string]int)
		seen := make(map[string]bool)
		for _, token := range tokens {
			termFrequency[token]++
			if !seen[token] {
				seen[token] = true
				documentFrequency[token]++
			}
		}
		stats[c.ID] = documentStats{
			termFrequency: termFrequency,
			length:        float64(len(tokens)),
		}
	}

	var averageLength float64
	if len(chunks) > 0 {
		averageLength = float64(totalLength) / float64(len(chunks))
	}

	// Precompute IDF for each term, floored at a small positive
	// epsilon so common terms still contribute a little.
	inverseDocumentFrequency := make(map[string]float64, len(documentFrequency))
	documentCount := float64(len(chunks))
	for term, frequency := range documentFrequency {
		idf := math.Log(1 + (documentCount-float64(frequency)+0.5)/(float64(frequency)+0.5))
		if idf < paramEpsilon {
			idf = paramEpsilon
		}
		inverseDocumentFrequency[term] = idf
	}

	return func(c chunk.Chunk, query string) float64 {
		queryTokens := tokenize(query)
		if len(queryTokens) == 0 || averageLength == 0 {
			return 0
		}

		document, known := stats[c.ID]
		if !known {
			termFrequency := make(map[string]int)
			tokens := tokenize(c.Content)
			for _, token := range tokens {
				termFrequency[token]++
			}
			document = documentStats{termFrequency: termFrequency, length: float64(len(tokens))}
		}

		var score float64
		for _, token := range queryTokens {
			idf, exists := inverseDocumentFrequency[token]
			if !exists {
				continue
			}
			frequency := float64(document.termFrequency[token])
			if frequency == 0 {
				continue
			}
			// BM25 term score: IDF * (tf * (k1 + 1)) / (tf + k1 * (1 - b + b * dl/avgdl))
			numerator := frequency * (paramK1 + 1)
			denominator := frequency + paramK1*(1-paramB+paramB*document.length/averageLength)
			score += idf * numerator / denominator
		}
		return score
	}
}
