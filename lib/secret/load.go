// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"os"
)

// FromEnv reads a secret from the named environment variable into a
// protected buffer. The environment copy cannot be zeroed (the runtime
// owns it), but the buffer keeps every subsequent copy off the heap.
// Returns an error if the variable is unset or empty.
func FromEnv(name string) (*Buffer, error) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return nil, fmt.Errorf("secret: environment variable %s is not set", name)
	}
	if value == "" {
		return nil, fmt.Errorf("secret: environment variable %s is empty", name)
	}
	return NewFromBytes([]byte(value))
}

// ReadFromPath reads a secret from a file path. The returned buffer is
// mmap-backed (locked into RAM, excluded from core dumps) and must be
// closed by the caller. Leading and trailing whitespace is trimmed
// before storing. Returns an error if the file is empty after
// trimming.
func ReadFromPath(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		Zero(data)
		return nil, fmt.Errorf("secret: %s is empty", path)
	}

	// NewFromBytes zeros trimmed; zero the rest of the original read
	// (whitespace prefix/suffix) as well.
	buffer, err := NewFromBytes(trimmed)
	Zero(data)
	if err != nil {
		return nil, err
	}
	return buffer, nil
}
