// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/fathomworks/fathom/lib/sqlitepool"
)

const blobSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	path       TEXT PRIMARY KEY,
	record     BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLite is a Store backed by one database file. Blob paths are used
// as opaque row keys; the same validation as the directory store
// applies so blobs stay portable between backends.
type SQLite struct {
	pool *sqlitepool.Pool
}

// OpenSQLite opens (creating if needed) the blob database at path.
// The caller must Close it.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, blobSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	return &SQLite{pool: pool}, nil
}

func (s *SQLite) Write(ctx context.Context, path string, data []byte) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	raw, err := encodeRecord(data)
	if err != nil {
		return fmt.Errorf("blobstore: writing %q: %w", path, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("blobstore: writing %q: %w", path, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO blobs (path, record, updated_at) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{path, raw, time.Now().Unix()},
		})
	if err != nil {
		return fmt.Errorf("blobstore: writing %q: %w", path, err)
	}
	return nil
}

func (s *SQLite) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: reading %q: %w", path, err)
	}
	defer s.pool.Put(conn)

	var raw []byte
	err = sqlitex.Execute(conn, "SELECT record FROM blobs WHERE path = ?", &sqlitex.ExecOptions{
		Args: []any{path},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			raw = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, raw)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: reading %q: %w", path, err)
	}
	if raw == nil {
		return nil, ErrNotFound
	}

	data, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("blobstore: reading %q: %w", path, err)
	}
	return data, nil
}

func (s *SQLite) Close() error {
	return s.pool.Close()
}
