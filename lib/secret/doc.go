// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for sensitive data:
// model API keys, blob-store sealing keys, and the secret values the
// output guard redacts.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock (preventing swap), and marks it
// excluded from core dumps via madvise(MADV_DONTDUMP). On Close, the
// memory is zeroed, then unlocked and unmapped.
//
// Because the memory is allocated outside the Go heap, the garbage
// collector never sees it and cannot copy or relocate it. This is the
// only way to guarantee that secret material does not persist in
// memory after it is no longer needed.
//
// The redaction use deserves a note: the guard holds the very values
// that must never appear in sandbox output. Keeping them in locked
// buffers means the one component whose job is containing secrets is
// not itself scattering copies across the heap.
package secret
