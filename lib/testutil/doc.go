// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for fathom packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. These are
// the only places in the test suite where real wall-clock timeouts
// appear; all production timeout logic runs on lib/clock and is tested
// against the fake clock.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no fathom-internal dependencies.
package testutil
