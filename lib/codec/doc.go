// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides fathom's standard CBOR encoding.
//
// All durable encodings (cache entries, blob records, fingerprint
// preimages) go through this package so they share one configuration:
// Core Deterministic Encoding (RFC 8949 §4.2) on the way out, and a
// decoder that yields map[string]any for any-typed targets on the way
// in.
//
// Determinism is not cosmetic here. Analysis fingerprints are keyed
// hashes over encoded (content, query) pairs; if the same logical pair
// could encode to different bytes, identical work would miss the cache.
// Deterministic encoding makes byte equality follow from logical
// equality.
//
// The wire protocol between host and sandbox is newline-delimited JSON
// (see lib/wire), not CBOR. JSON lines keep the channel greppable and
// debuggable from a terminal; CBOR is reserved for stored bytes where
// determinism and compactness matter.
package codec
