// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the fathom CLI command tree: analysis runs,
// single-session program execution, chunk plan previews, and profile
// tooling. Each command assembles its collaborators (model client,
// storage backends, output guard, worker factory) from the
// configuration file and hands the real work to the lib packages.
package commands
