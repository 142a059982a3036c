// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package chunk

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Keys splits a JSON document at its top-level structure: one chunk
// per object member or array element. A scalar document or an empty
// container is a single chunk. Chunks stay contiguous, so enclosing
// braces and separators attach to the member they precede.
type Keys struct{}

func (Keys) Split(source string) ([]Chunk, error) {
	if strings.TrimSpace(source) == "" {
		return fromBoundaries(source, nil), nil
	}

	decoder := json.NewDecoder(strings.NewReader(source))
	first, err := decoder.Token()
	if err != nil {
		return nil, fmt.Errorf("keys chunking: parsing json: %w", err)
	}

	delim, isDelim := first.(json.Delim)
	if !isDelim || (delim != '{' && delim != '[') {
		if err := expectEnd(decoder); err != nil {
			return nil, err
		}
		return fromBoundaries(source, nil), nil
	}

	// The first member is absorbed by the chunk that starts at offset
	// zero with the opening delimiter; only later members open chunks.
	var offsets []int
	firstMember := true
	for decoder.More() {
		if !firstMember {
			offsets = append(offsets, memberStart(source, int(decoder.InputOffset())))
		}
		firstMember = false
		if delim == '{' {
			if _, err := decoder.Token(); err != nil {
				return nil, fmt.Errorf("keys chunking: parsing json: %w", err)
			}
		}
		var value json.RawMessage
		if err := decoder.Decode(&value); err != nil {
			return nil, fmt.Errorf("keys chunking: parsing json: %w", err)
		}
	}
	if _, err := decoder.Token(); err != nil {
		return nil, fmt.Errorf("keys chunking: parsing json: %w", err)
	}
	if err := expectEnd(decoder); err != nil {
		return nil, err
	}
	return fromBoundaries(source, offsets), nil
}

func expectEnd(decoder *json.Decoder) error {
	if _, err := decoder.Token(); err != io.EOF {
		return fmt.Errorf("keys chunking: trailing data after document")
	}
	return nil
}

// memberStart advances past whitespace and the member separator to
// the first byte of the member at or after offset.
func memberStart(source string, offset int) int {
	for offset < len(source) {
		switch source[offset] {
		case ' ', '\t', '\n', '\r', ',':
			offset++
		default:
			return offset
		}
	}
	return offset
}
