// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package guard sanitizes execution results before they cross the
// host boundary. The session manager runs every result through one
// Guard; nothing downstream ever sees the raw sandbox output.
//
// The transform order is fixed:
//
//  1. Redaction. Every configured secret value is replaced by the
//     placeholder wherever it occurs: stdout, stderr, the error
//     detail, and every string leaf of the final value. Running
//     first means a secret can never straddle a later truncation
//     boundary and partially survive.
//  2. ANSI stripping. Terminal escape sequences are removed from the
//     output streams. Because stripping can splice together a secret
//     that an escape sequence had split, redaction runs once more on
//     the stripped text.
//  3. Summarization. An output stream longer than the threshold is
//     replaced by {total_chars, total_lines, prefix}; shorter streams
//     pass through unchanged. Error details are never summarized.
//
// Lengths and the prefix are measured in Unicode code points. Line
// counts follow wc -l semantics: a trailing newline does not open an
// empty final line.
//
// Secret values live in page-locked buffers (lib/secret) so the
// canonical copy stays off swap and out of core dumps.
package guard
