// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir is a Store that keeps each blob as one file under a root
// directory, at the blob's path. Writes go through a temp file and
// rename, so readers never observe a partially written blob.
type Dir struct {
	root string
}

// NewDir opens a directory store rooted at root, creating the
// directory if needed.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, fmt.Errorf("blobstore: root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("blobstore: creating root directory: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) Write(ctx context.Context, path string, data []byte) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	raw, err := encodeRecord(data)
	if err != nil {
		return fmt.Errorf("blobstore: writing %q: %w", path, err)
	}

	finalPath := filepath.Join(d.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o700); err != nil {
		return fmt.Errorf("blobstore: creating parent directory for %q: %w", path, err)
	}

	tmpFile, err := os.CreateTemp(d.root, "blob-*.tmp")
	if err != nil {
		return fmt.Errorf("blobstore: creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(raw); err != nil {
		tmpFile.Close()
		return fmt.Errorf("blobstore: writing %q: %w", path, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("blobstore: closing temp file for %q: %w", path, err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("blobstore: renaming blob into place: %w", err)
	}

	success = true
	return nil
}

func (d *Dir) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(path)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("blobstore: reading %q: %w", path, err)
	}

	data, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("blobstore: reading %q: %w", path, err)
	}
	return data, nil
}
