// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the shared SQLite connection pool used
// by the durable layers (the analysis cache and the blob store). It
// wraps zombiezen.com/go/sqlite with one set of pragmas and one pool
// pattern so every database in the system behaves the same way.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use; each goroutine holds its own connection for the
// duration of its work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: concurrent readers and a single writer.
//     Orchestrator workers read and write the cache at the same time;
//     neither side blocks the other.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across power failure, which is acceptable here: every
//     cache entry is recomputable from its source, and blobs are
//     working state of an analysis, not a system of record.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock
//     instead of returning SQLITE_BUSY immediately.
//   - foreign_keys=OFF: the schemas are flat keyed tables with no
//     relational integrity to enforce.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - mmap_size=268435456: 256 MB memory-mapped I/O so reads come
//     from the OS page cache without read(2) overhead.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/fathom/cache.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
//
// The package is intentionally thin: it applies the pragmas and
// exposes the underlying zombiezen types directly. Consumers write
// SQL and use sqlitex.Execute for cached statements; there is no
// query builder between them and SQLite.
package sqlitepool
