// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"errors"
	"fmt"
	slashpath "path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Read when no blob exists at the given
// path. Callers translate it into their own absence semantics (the
// session dispatcher returns a found=false response rather than an
// error).
var ErrNotFound = errors.New("blobstore: not found")

// Store is durable named-blob storage. Write replaces any existing
// blob at the path. Read returns the stored bytes or ErrNotFound.
// Implementations tolerate concurrent callers.
type Store interface {
	Write(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
}

// ValidatePath checks that a blob path is usable as a storage name:
// non-empty, relative, slash-separated, local (no ".." escape, no
// absolute prefix), and in canonical form. Canonical form matters
// because backends that key rows by the literal string and backends
// that map paths onto a filesystem must agree on blob identity
// ("a/../b" and "b" would alias on disk but not in a table). Paths
// come from untrusted analysis programs, so every backend validates
// before touching storage.
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("blobstore: empty path")
	}
	if strings.ContainsAny(path, "\x00\\") {
		return fmt.Errorf("blobstore: path %q contains forbidden characters", path)
	}
	if !filepath.IsLocal(path) {
		return fmt.Errorf("blobstore: path %q escapes the store root", path)
	}
	if path != slashpath.Clean(path) {
		return fmt.Errorf("blobstore: path %q is not in canonical form", path)
	}
	return nil
}
