// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import "fmt"

// FixedSize splits a source into windows of Size bytes advancing by
// Size-Overlap, so consecutive chunks share Overlap bytes. The final
// chunk is whatever remains and may be shorter.
type FixedSize struct {
	Size    int
	Overlap int
}

func (s FixedSize) Split(source string) ([]Chunk, error) {
	if s.Size < 1 {
		return nil, fmt.Errorf("fixed-size chunking: size must be positive, got %d", s.Size)
	}
	if s.Overlap < 0 || s.Overlap >= s.Size {
		return nil, fmt.Errorf("fixed-size chunking: overlap %d must be in [0, size %d)", s.Overlap, s.Size)
	}

	stride := s.Size - s.Overlap
	var chunks []Chunk
	for start := 0; ; start += stride {
		end := start + s.Size
		if end > len(source) {
			end = len(source)
		}
		chunks = append(chunks, Chunk{
			ID:      ID(len(chunks)),
			Start:   start,
			End:     end,
			Content: source[start:end],
			Overlap: len(chunks) > 0 && s.Overlap > 0,
		})
		if end == len(source) {
			return chunks, nil
		}
	}
}
