// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package repl is the sandbox-side execution runtime: a Starlark
// interpreter whose namespace persists across execution requests, so
// values assigned by one request are live and mutable in the next.
//
// The runtime injects a small primitive surface into the namespace.
// llm_query, llm_query_batch, delegate, store_write, and store_read
// suspend the execution and round-trip a callback frame through the
// host; final_result, buffer_append, buffer_read, and buffer_clear
// are serviced locally and never suspend. Primitive failures that the
// program may want to handle (budget exhaustion, host-side callback
// failures, missing capabilities) come back as error values, a
// distinct Starlark type with code and message attributes that is
// falsy in boolean context. Misuse that indicates a broken program,
// such as calling final_result twice, fails the execution instead.
//
// The runtime stays transport-agnostic: callbacks go through the
// Caller interface, implemented over stdio framing by the worker
// binary and by in-process fakes in tests.
package repl
