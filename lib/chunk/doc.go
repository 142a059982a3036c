// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunk splits oversized sources into bounded units for
// independent analysis. A Strategy is a pure function of its input:
// the same source and parameters always produce byte-identical
// boundaries, which is what makes analysis fingerprints stable across
// runs.
//
// Every strategy emits an ordered sequence covering the whole source
// with no gaps; only FixedSize produces overlapping chunks. A source
// that a strategy finds no internal boundaries in comes back as a
// single chunk, never as an error.
//
// Four strategies ship: FixedSize (stride windows with optional
// overlap), Boundary (split before each regexp match), Keys (split a
// JSON document at its top-level members), and Markdown (split before
// headings). New builds a strategy from a Config, for callers driven
// by profiles or flags.
package chunk
