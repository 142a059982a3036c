// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fathomworks/fathom/lib/fingerprint"
)

// ErrMiss reports an absent (or discarded) entry. A miss is normal
// control flow, not a failure.
var ErrMiss = errors.New("cache: miss")

// Entry is one stored analysis result.
type Entry struct {
	// Fingerprint echoes the key the entry is stored under. Put
	// normalizes it, so readers can trust it matches.
	Fingerprint fingerprint.Hash `cbor:"fingerprint"`

	// ChunkID names the unit the result came from. Never empty in a
	// valid entry.
	ChunkID string `cbor:"chunk_id"`

	// Answer and Confidence are the unit's reported result.
	Answer     string  `cbor:"answer"`
	Confidence float64 `cbor:"confidence"`

	// CreatedAt is when the entry was written. Second precision
	// survives storage.
	CreatedAt time.Time `cbor:"created_at"`
}

// validate is the shape check applied on every read and write.
func (e Entry) validate() error {
	if e.ChunkID == "" {
		return fmt.Errorf("entry has empty chunk id")
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("entry has no creation time")
	}
	return nil
}

// Cache is the contract shared by all backends. Implementations are
// safe for concurrent use.
type Cache interface {
	// Get returns the entry stored under fp, or ErrMiss.
	Get(ctx context.Context, fp fingerprint.Hash) (Entry, error)

	// Put stores the entry under fp, overwriting any previous entry.
	Put(ctx context.Context, fp fingerprint.Hash, entry Entry) error
}
