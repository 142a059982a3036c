// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package session manages sandbox execution sessions from the host
// side: spawning the worker process, pumping protocol frames,
// sanitizing results, and enforcing idle, absolute, and per-call
// deadlines.
//
// A Session serializes its own executions; a second concurrent
// Execute fails fast rather than queueing. While an execution is in
// flight the session services the sandbox's callback requests through
// a closed dispatcher table, so a suspended program can reach the
// language model, durable storage, and one-level delegation without
// the caller's involvement.
package session
