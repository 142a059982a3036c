// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fathomworks/fathom/lib/secret"
)

func TestValidatePath(t *testing.T) {
	valid := []string{
		"report.txt",
		"notes/summary.txt",
		"a/b/c/d",
		".hidden",
	}
	for _, path := range valid {
		if err := ValidatePath(path); err != nil {
			t.Errorf("ValidatePath(%q) = %v, want nil", path, err)
		}
	}

	invalid := []string{
		"",
		"/etc/passwd",
		"..",
		"../escape",
		"a/../../escape",
		"a\\b",
		"nul\x00byte",
		"./report.txt",
		"a//b",
		"a/../b",
		"trailing/",
	}
	for _, path := range invalid {
		if err := ValidatePath(path); err == nil {
			t.Errorf("ValidatePath(%q) = nil, want error", path)
		}
	}
}

func TestCompressAutoCompressibleText(t *testing.T) {
	data := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200))

	payload, tag, err := compressAuto(data)
	if err != nil {
		t.Fatalf("compressAuto: %v", err)
	}
	if tag != compressionZstd {
		t.Errorf("tag = %v, want zstd for repetitive text", tag)
	}
	if len(payload) >= len(data) {
		t.Errorf("payload is %d bytes, input %d; expected compression", len(payload), len(data))
	}

	restored, err := decompress(payload, tag, len(data))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Error("decompressed data differs from input")
	}
}

func TestCompressAutoIncompressibleFallsBack(t *testing.T) {
	data := make([]byte, 4096)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("generating random data: %v", err)
	}

	payload, tag, err := compressAuto(data)
	if err != nil {
		t.Fatalf("compressAuto: %v", err)
	}
	if tag != compressionNone {
		t.Errorf("tag = %v, want none for random data", tag)
	}
	if !bytes.Equal(payload, data) {
		t.Error("uncompressed payload differs from input")
	}
}

func TestCompressRoundTripLZ4(t *testing.T) {
	data := []byte(strings.Repeat("abcabcabc", 500))

	payload, err := compress(data, compressionLZ4)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	restored, err := decompress(payload, compressionLZ4, len(data))
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Error("decompressed data differs from input")
	}

	// A wrong uncompressed size must be rejected, not mis-sliced.
	if _, err := decompress(payload, compressionLZ4, len(data)-1); err == nil {
		t.Error("decompress with wrong size succeeded, want error")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	data := []byte(strings.Repeat("measurement 42 at offset 17\n", 100))

	raw, err := encodeRecord(data)
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}
	restored, err := decodeRecord(raw)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Error("decoded data differs from input")
	}
}

func TestRecordFingerprintMismatch(t *testing.T) {
	raw, err := encodeRecord([]byte("original content"))
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}

	// Flip one bit somewhere in the second half of the record, which
	// holds payload bytes, then confirm the read fails rather than
	// returning wrong data. Some flips corrupt the CBOR framing
	// instead of the payload; both must surface as errors.
	corrupted := bytes.Clone(raw)
	corrupted[len(corrupted)-2] ^= 0x01

	if _, err := decodeRecord(corrupted); err == nil {
		t.Error("decodeRecord of corrupted record succeeded, want error")
	}
}

func TestDirRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	if _, err := store.Read(ctx, "missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read of missing blob: error = %v, want ErrNotFound", err)
	}

	data := []byte(strings.Repeat("session findings\n", 50))
	if err := store.Write(ctx, "notes/summary.txt", data); err != nil {
		t.Fatalf("write: %v", err)
	}

	restored, err := store.Read(ctx, "notes/summary.txt")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Error("read data differs from written data")
	}
}

func TestDirOverwrite(t *testing.T) {
	ctx := context.Background()
	store, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	if err := store.Write(ctx, "state", []byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := store.Write(ctx, "state", []byte("second")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	restored, err := store.Read(ctx, "state")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(restored) != "second" {
		t.Errorf("read %q, want %q", restored, "second")
	}
}

func TestDirRejectsEscapingPaths(t *testing.T) {
	ctx := context.Background()
	store, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	for _, path := range []string{"../escape", "/etc/passwd", "a/../b"} {
		if err := store.Write(ctx, path, []byte("x")); err == nil {
			t.Errorf("write to %q succeeded, want error", path)
		}
		if _, err := store.Read(ctx, path); err == nil {
			t.Errorf("read of %q succeeded, want error", path)
		}
	}
}

func TestDirCorruptFileSurfacesAsError(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewDir(root)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	if err := store.Write(ctx, "blob", []byte("content")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "blob"), []byte("not a record"), 0o600); err != nil {
		t.Fatalf("overwriting blob file: %v", err)
	}

	_, err = store.Read(ctx, "blob")
	if err == nil {
		t.Fatal("read of corrupt blob succeeded, want error")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("corrupt blob reported as not found; corruption must be distinguishable from absence")
	}
}

func openTestSQLiteStore(t *testing.T) *SQLite {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "blobs.db"), nil)
	if err != nil {
		t.Fatalf("opening blob store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("closing blob store: %v", err)
		}
	})
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLiteStore(t)

	if _, err := store.Read(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("read of missing blob: error = %v, want ErrNotFound", err)
	}

	data := []byte(strings.Repeat("intermediate result\n", 80))
	if err := store.Write(ctx, "runs/7/report", data); err != nil {
		t.Fatalf("write: %v", err)
	}

	restored, err := store.Read(ctx, "runs/7/report")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Error("read data differs from written data")
	}
}

func TestSQLiteStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	store := openTestSQLiteStore(t)

	if err := store.Write(ctx, "state", []byte("first")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := store.Write(ctx, "state", []byte("second")); err != nil {
		t.Fatalf("second write: %v", err)
	}

	restored, err := store.Read(ctx, "state")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(restored) != "second" {
		t.Errorf("read %q, want %q", restored, "second")
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "blobs.db")

	store, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("opening blob store: %v", err)
	}
	if err := store.Write(ctx, "durable", []byte("survives restarts")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("reopening blob store: %v", err)
	}
	defer reopened.Close()

	restored, err := reopened.Read(ctx, "durable")
	if err != nil {
		t.Fatalf("read after reopen: %v", err)
	}
	if string(restored) != "survives restarts" {
		t.Errorf("read %q, want %q", restored, "survives restarts")
	}
}

func testSealingKey(t *testing.T) *secret.Buffer {
	t.Helper()
	key, err := secret.NewFromBytes(bytes.Repeat([]byte{0x42}, KeySize))
	if err != nil {
		t.Fatalf("creating sealing key: %v", err)
	}
	return key
}

func TestSealedRoundTrip(t *testing.T) {
	ctx := context.Background()
	inner, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	sealed, err := NewSealed(inner, testSealingKey(t))
	if err != nil {
		t.Fatalf("NewSealed: %v", err)
	}
	defer sealed.Close()

	data := []byte("analysis working state with a secret inside")
	if err := sealed.Write(ctx, "workspace/state", data); err != nil {
		t.Fatalf("write: %v", err)
	}

	restored, err := sealed.Read(ctx, "workspace/state")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(restored, data) {
		t.Error("read data differs from written data")
	}

	// The inner store must hold ciphertext, not the plaintext.
	stored, err := inner.Read(ctx, "workspace/state")
	if err != nil {
		t.Fatalf("reading inner store: %v", err)
	}
	if bytes.Contains(stored, []byte("secret inside")) {
		t.Error("inner store contains plaintext")
	}

	if _, err := sealed.Read(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("read of missing blob: error = %v, want ErrNotFound", err)
	}
}

func TestSealedBlobBoundToPath(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	inner, err := NewDir(root)
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	sealed, err := NewSealed(inner, testSealingKey(t))
	if err != nil {
		t.Fatalf("NewSealed: %v", err)
	}
	defer sealed.Close()

	if err := sealed.Write(ctx, "original", []byte("bound content")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Move the stored file to a different name. The inner record
	// still verifies (it fingerprints ciphertext), but the AEAD open
	// must fail because the path is authenticated.
	if err := os.Rename(filepath.Join(root, "original"), filepath.Join(root, "moved")); err != nil {
		t.Fatalf("moving blob file: %v", err)
	}

	if _, err := sealed.Read(ctx, "moved"); err == nil {
		t.Error("read of relocated sealed blob succeeded, want authentication failure")
	}
}

func TestSealedWrongKeyFailsOpen(t *testing.T) {
	ctx := context.Background()
	inner, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}

	writer, err := NewSealed(inner, testSealingKey(t))
	if err != nil {
		t.Fatalf("NewSealed: %v", err)
	}
	defer writer.Close()

	otherKey, err := secret.NewFromBytes(bytes.Repeat([]byte{0x99}, KeySize))
	if err != nil {
		t.Fatalf("creating second key: %v", err)
	}
	reader, err := NewSealed(inner, otherKey)
	if err != nil {
		t.Fatalf("NewSealed: %v", err)
	}
	defer reader.Close()

	if err := writer.Write(ctx, "blob", []byte("content")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := reader.Read(ctx, "blob"); err == nil {
		t.Error("read with wrong key succeeded, want authentication failure")
	}
}

func TestSealedRejectsShortKey(t *testing.T) {
	inner, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatalf("NewDir: %v", err)
	}
	shortKey, err := secret.NewFromBytes([]byte("sixteen byte key"))
	if err != nil {
		t.Fatalf("creating short key: %v", err)
	}
	if _, err := NewSealed(inner, shortKey); err == nil {
		t.Error("NewSealed with 16-byte key succeeded, want error")
	}
}
