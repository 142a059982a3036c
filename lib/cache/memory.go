// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/fathomworks/fathom/lib/fingerprint"
)

// Memory is an in-process Cache for single-run use and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[fingerprint.Hash]Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[fingerprint.Hash]Entry)}
}

func (m *Memory) Get(ctx context.Context, fp fingerprint.Hash) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[fp]
	if !ok {
		return Entry{}, ErrMiss
	}
	if entry.validate() != nil {
		delete(m.entries, fp)
		return Entry{}, ErrMiss
	}
	return entry, nil
}

func (m *Memory) Put(ctx context.Context, fp fingerprint.Hash, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := entry.validate(); err != nil {
		return fmt.Errorf("cache: rejecting put: %w", err)
	}
	entry.Fingerprint = fp

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fp] = entry
	return nil
}

// Len reports the number of stored entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
