// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobstore provides durable named-blob storage for analysis
// programs. Blobs are written under caller-chosen relative paths and
// read back verbatim, surviving session and process restarts.
//
// Two backends implement the Store interface: Dir keeps each blob as
// a file under a root directory, SQLite keeps blobs as rows in one
// database file. Both wrap the raw bytes in a CBOR record that carries
// a compression tag (none, lz4, or zstd, chosen by probing) and a
// keyed BLAKE3 fingerprint that is verified on every read. A record
// that fails to decode or verify is reported as corrupt rather than
// returned.
//
// Sealed wraps any Store with XChaCha20-Poly1305 encryption. Each
// blob is sealed under a key derived from the store's master key and
// the blob path via HKDF-SHA256, with the path bound into the
// additional authenticated data so ciphertexts cannot be swapped
// between names.
package blobstore
