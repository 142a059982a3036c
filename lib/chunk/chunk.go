// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"fmt"
	"sort"
)

// Chunk is one bounded unit of a source. Offsets are byte positions:
// Content == source[Start:End].
type Chunk struct {
	// ID is derived from the chunk's index and stable across runs.
	ID string

	Start   int
	End     int
	Content string

	// Score is the chunk's relevance, filled in by the ranker.
	// Strategies leave it zero.
	Score float64

	// Overlap marks a chunk whose range overlaps its predecessor's.
	Overlap bool
}

// Strategy computes chunk boundaries. Implementations are pure:
// no state survives a Split call and identical inputs yield identical
// output.
type Strategy interface {
	Split(source string) ([]Chunk, error)
}

// ID formats the canonical chunk id for an index.
func ID(index int) string {
	return fmt.Sprintf("c%05d", index)
}

// fromBoundaries builds contiguous chunks from candidate split
// offsets. Offsets outside (0, len(source)) are dropped, duplicates
// collapse, and the first chunk always starts at zero, so the result
// covers the source exactly regardless of where the matches fell.
func fromBoundaries(source string, offsets []int) []Chunk {
	kept := offsets[:0:0]
	for _, offset := range offsets {
		if offset > 0 && offset < len(source) {
			kept = append(kept, offset)
		}
	}
	sort.Ints(kept)

	starts := []int{0}
	for _, offset := range kept {
		if offset != starts[len(starts)-1] {
			starts = append(starts, offset)
		}
	}

	chunks := make([]Chunk, 0, len(starts))
	for i, start := range starts {
		end := len(source)
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		chunks = append(chunks, Chunk{
			ID:      ID(i),
			Start:   start,
			End:     end,
			Content: source[start:end],
		})
	}
	return chunks
}
