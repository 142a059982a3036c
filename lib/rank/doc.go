// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package rank orders chunks by relevance to a query. A Scorer is a
// pure function of one chunk and the query; Rank applies it and
// sorts descending with a stable tie-break on original position, so
// identical inputs always produce the identical order. Zero-score
// chunks are kept: the orchestrator decides what to skip, not the
// ranker.
//
// TermCount, the default scorer, counts case-folded query term
// occurrences. NewBM25 builds an Okapi BM25 scorer closed over the
// corpus statistics of a chunk set, for corpora where plain term
// counts drown in document length variance.
package rank
