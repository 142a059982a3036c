// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache stores analysis results keyed by fingerprint, so a
// repeated run over unchanged content answers from storage instead of
// re-executing units. Keys are computed by the caller with
// lib/fingerprint; the cache never inspects content and holds no
// opinion on how keys are derived.
//
// Both backends share the same contract: Get returns ErrMiss for an
// absent key, Put overwrites unconditionally (last write wins), and
// entries are validated when read. A malformed entry, whatever put it
// in that state, is discarded and reported as a miss rather than
// served.
//
// Memory is a mutex-guarded map for single-process runs and tests.
// SQLite persists entries as CBOR rows through the shared connection
// pool and survives process restarts.
package cache
