// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/fathomworks/fathom/lib/codec"
	"github.com/fathomworks/fathom/lib/fingerprint"
	"github.com/fathomworks/fathom/lib/sqlitepool"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS analysis_cache (
	fingerprint TEXT PRIMARY KEY,
	entry       BLOB NOT NULL,
	created_at  INTEGER NOT NULL
);
`

// SQLite is a persistent Cache backed by one database file. Entries
// are CBOR rows keyed by the hex fingerprint.
type SQLite struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the cache database at path.
// The caller must Close it.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, cacheSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return &SQLite{pool: pool, logger: logger}, nil
}

func (s *SQLite) Get(ctx context.Context, fp fingerprint.Hash) (Entry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Entry{}, fmt.Errorf("cache: get: %w", err)
	}
	defer s.pool.Put(conn)

	key := fingerprint.Format(fp)
	var raw []byte
	err = sqlitex.Execute(conn, "SELECT entry FROM analysis_cache WHERE fingerprint = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			raw = make([]byte, stmt.ColumnLen(0))
			stmt.ColumnBytes(0, raw)
			return nil
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("cache: get: %w", err)
	}
	if raw == nil {
		return Entry{}, ErrMiss
	}

	var entry Entry
	if err := codec.Unmarshal(raw, &entry); err != nil {
		s.discard(conn, key, fmt.Errorf("decoding: %w", err))
		return Entry{}, ErrMiss
	}
	if err := entry.validate(); err != nil {
		s.discard(conn, key, err)
		return Entry{}, ErrMiss
	}
	return entry, nil
}

func (s *SQLite) Put(ctx context.Context, fp fingerprint.Hash, entry Entry) error {
	if err := entry.validate(); err != nil {
		return fmt.Errorf("cache: rejecting put: %w", err)
	}
	entry.Fingerprint = fp

	raw, err := codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: encoding entry: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO analysis_cache (fingerprint, entry, created_at) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{fingerprint.Format(fp), raw, entry.CreatedAt.Unix()},
		})
	if err != nil {
		return fmt.Errorf("cache: put: %w", err)
	}
	return nil
}

// discard deletes a row that failed validation so it is never served
// again.
func (s *SQLite) discard(conn *sqlite.Conn, key string, cause error) {
	s.logger.Warn("discarding malformed cache entry",
		"fingerprint", key,
		"error", cause,
	)
	err := sqlitex.Execute(conn, "DELETE FROM analysis_cache WHERE fingerprint = ?", &sqlitex.ExecOptions{
		Args: []any{key},
	})
	if err != nil {
		s.logger.Error("deleting malformed cache entry",
			"fingerprint", key,
			"error", err,
		)
	}
}

func (s *SQLite) Close() error {
	return s.pool.Close()
}
