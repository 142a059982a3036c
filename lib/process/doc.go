// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for fathom
// binaries. These centralize the one legitimate raw-I/O pattern that
// exists before the structured logger: fatal error reporting from
// main() when run() fails. All other output in non-CLI code goes
// through log/slog.
package process
