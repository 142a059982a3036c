// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package fingerprint computes the stable identities that the cache
// and blob store key on.
//
// All fingerprints are 32-byte BLAKE3 keyed hashes. Keyed mode gives
// domain separation: the same input bytes produce unrelated hashes in
// different contexts, so an analysis fingerprint can never collide
// with a blob checksum by construction.
//
// Analysis fingerprints are computed over the Core Deterministic CBOR
// encoding of the (content, query) pair, not over an ad-hoc
// concatenation. Concatenation is ambiguous: ("ab","c") and
// ("a","bc") would collide, and any ambiguity here silently serves
// wrong cache hits.
package fingerprint

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/fathomworks/fathom/lib/codec"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. The byte
// values are the ASCII encoding of the domain name, zero-padded to 32
// bytes. Readable ASCII keeps the keys inspectable in hex dumps
// without sacrificing any property of keyed hashing (the key is an
// opaque 32-byte value to BLAKE3).
type domainKey [32]byte

// Domain separation keys. Fixed constants: changing one invalidates
// every stored hash in that domain.
var (
	analysisDomainKey = domainKey{
		'f', 'a', 't', 'h', 'o', 'm', '.', 'a', 'n', 'a', 'l', 'y', 's', 'i', 's',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	blobDomainKey = domainKey{
		'f', 'a', 't', 'h', 'o', 'm', '.', 'b', 'l', 'o', 'b',
		0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// preimage is the canonical form hashed by Analysis. Field order is
// fixed by the struct; map-order instability cannot arise.
type preimage struct {
	Content string `cbor:"content"`
	Query   string `cbor:"query"`
}

// Analysis returns the fingerprint identifying one (chunk content,
// query) analysis. Identical inputs always produce the identical
// fingerprint; this is the cache key contract.
func Analysis(content, query string) Hash {
	encoded, err := codec.Marshal(preimage{Content: content, Query: query})
	if err != nil {
		// Two string fields cannot fail deterministic encoding.
		panic("fingerprint: encoding analysis preimage failed: " + err.Error())
	}
	return keyedHash(analysisDomainKey, encoded)
}

// Blob returns the blob-domain checksum of raw bytes. The blob store
// records it at write time and verifies it at read time.
func Blob(data []byte) Hash {
	return keyedHash(blobDomainKey, data)
}

// Format returns the hex-encoded string representation of a hash.
// This is the canonical format used in storage keys, logs, and CLI
// output.
func Format(hash Hash) string {
	return hex.EncodeToString(hash[:])
}

// Parse parses a 64-character hex string into a Hash.
func Parse(hexString string) (Hash, error) {
	var hash Hash
	decoded, err := hex.DecodeString(hexString)
	if err != nil {
		return hash, fmt.Errorf("parsing fingerprint: %w", err)
	}
	if len(decoded) != 32 {
		return hash, fmt.Errorf("fingerprint is %d bytes, want 32", len(decoded))
	}
	copy(hash[:], decoded)
	return hash, nil
}

// keyedHash computes the BLAKE3 keyed hash with the given domain key.
func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed only fails on wrong key length, which domainKey rules
	// out.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
