// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/fathomworks/fathom/lib/secret"
)

// KeySize is the size in bytes of the sealed store's master key and
// of every per-blob key derived from it.
const KeySize = 32

// sealedBlobVersion is the version byte prepended to every sealed
// blob. It is included in the AEAD additional authenticated data, so
// tampering with it causes authentication failure.
const sealedBlobVersion byte = 0x01

// sealedOverhead is the byte overhead per sealed blob:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const sealedOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// hkdfInfoBlobKey is the HKDF info prefix for per-blob key
// derivation. Changing it invalidates every sealed blob.
var hkdfInfoBlobKey = []byte("fathom.blob.enc.v1")

// Sealed wraps a Store with XChaCha20-Poly1305 encryption. Each blob
// is sealed under a key derived from the master key and the blob path
// via HKDF-SHA256. The path is also bound into the additional
// authenticated data, so a ciphertext moved to a different path fails
// to open.
//
// The inner store sees only ciphertext. Its compression probe will
// find sealed payloads incompressible and store them untouched, and
// its fingerprint check still catches at-rest corruption before the
// AEAD does.
type Sealed struct {
	inner     Store
	masterKey *secret.Buffer
}

// NewSealed wraps inner with encryption under masterKey. The key
// buffer is owned by the returned store and is closed by Close; the
// caller must not use it afterwards. The inner store's lifecycle
// stays with whoever opened it.
func NewSealed(inner Store, masterKey *secret.Buffer) (*Sealed, error) {
	if masterKey.Len() != KeySize {
		return nil, fmt.Errorf("blobstore: sealing key must be %d bytes, got %d", KeySize, masterKey.Len())
	}
	return &Sealed{inner: inner, masterKey: masterKey}, nil
}

// Close zeroes and releases the master key. Idempotent. After Close,
// Write and Read fail.
func (s *Sealed) Close() error {
	return s.masterKey.Close()
}

func (s *Sealed) Write(ctx context.Context, path string, data []byte) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	sealed, err := s.seal(path, data)
	if err != nil {
		return fmt.Errorf("blobstore: sealing %q: %w", path, err)
	}
	return s.inner.Write(ctx, path, sealed)
}

func (s *Sealed) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	sealed, err := s.inner.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	data, err := s.open(path, sealed)
	if err != nil {
		return nil, fmt.Errorf("blobstore: opening %q: %w", path, err)
	}
	return data, nil
}

func (s *Sealed) seal(path string, plaintext []byte) ([]byte, error) {
	blobKey, err := s.deriveBlobKey(path)
	if err != nil {
		return nil, err
	}
	defer blobKey.Close()

	aead, err := chacha20poly1305.NewX(blobKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, sealedOverhead+len(plaintext))
	output[0] = sealedBlobVersion
	copy(output[1:], nonce[:])

	return aead.Seal(output, nonce[:], plaintext, sealAAD(sealedBlobVersion, path)), nil
}

func (s *Sealed) open(path string, sealed []byte) ([]byte, error) {
	if len(sealed) < sealedOverhead {
		return nil, fmt.Errorf("sealed blob is %d bytes, minimum is %d (version + nonce + tag)",
			len(sealed), sealedOverhead)
	}

	version := sealed[0]
	if version != sealedBlobVersion {
		return nil, fmt.Errorf("sealed blob version %d is not supported (expected %d)",
			version, sealedBlobVersion)
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[1+chacha20poly1305.NonceSizeX:]

	blobKey, err := s.deriveBlobKey(path)
	if err != nil {
		return nil, err
	}
	defer blobKey.Close()

	aead, err := chacha20poly1305.NewX(blobKey.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, sealAAD(version, path))
	if err != nil {
		return nil, fmt.Errorf("AEAD decryption failed (wrong key, tampered data, or mismatched path): %w", err)
	}
	return plaintext, nil
}

// deriveBlobKey derives the per-blob key via HKDF-SHA256 with a nil
// salt. The master key is already uniformly random, so the extract
// phase with a zero key is appropriate per RFC 5869.
func (s *Sealed) deriveBlobKey(path string) (*secret.Buffer, error) {
	info := make([]byte, 0, len(hkdfInfoBlobKey)+len(path))
	info = append(info, hkdfInfoBlobKey...)
	info = append(info, path...)

	reader := hkdf.New(sha256.New, s.masterKey.Bytes(), nil, info)
	derived := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		secret.Zero(derived)
		return nil, fmt.Errorf("deriving blob key: %w", err)
	}
	// NewFromBytes copies into guarded memory and zeroes the heap
	// slice.
	return secret.NewFromBytes(derived)
}

// sealAAD builds the additional authenticated data: version byte then
// path bytes.
func sealAAD(version byte, path string) []byte {
	aad := make([]byte, 1+len(path))
	aad[0] = version
	copy(aad[1:], path)
	return aad
}
