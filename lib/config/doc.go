// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the fathom configuration file.
//
// Configuration is a single YAML document overlaid on built-in
// defaults: Default returns a usable configuration with no file at
// all, and LoadFile merges a file over it. Load reads the path named
// by the FATHOM_CONFIG environment variable. After the overlay,
// ${VAR} and ${VAR:-default} references in string fields are expanded
// from a small set of built-in variables and the process environment,
// so paths can be written portably:
//
//	storage:
//	  cache: sqlite
//	  cache_path: ${FATHOM_ROOT}/cache.db
//
// Validate reports every problem it can find in one pass rather than
// stopping at the first, so a freshly edited file surfaces all of its
// mistakes at once.
package config
