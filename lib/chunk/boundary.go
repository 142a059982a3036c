// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"fmt"
	"regexp"
)

// Boundary splits a source before each match of Pattern. The first
// chunk starts at offset zero even when no match precedes it, and a
// source with no matches at all is returned as a single chunk.
type Boundary struct {
	Pattern *regexp.Regexp
}

func (s Boundary) Split(source string) ([]Chunk, error) {
	if s.Pattern == nil {
		return nil, fmt.Errorf("boundary chunking: pattern is nil")
	}
	matches := s.Pattern.FindAllStringIndex(source, -1)
	offsets := make([]int, 0, len(matches))
	for _, match := range matches {
		offsets = append(offsets, match[0])
	}
	return fromBoundaries(source, offsets), nil
}
