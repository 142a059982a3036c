// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the session protocol spoken between the host
// and a sandbox runtime, and the codec that frames it.
//
// The protocol is newline-delimited JSON over a byte stream (in
// production, the sandbox process's stdin and stdout). Each line is
// one Frame carrying a kind discriminator and a correlation id. Four
// kinds exist:
//
//   - execute: host to sandbox; code to run plus injected variables.
//   - result: sandbox to host; the outcome of one execute.
//   - callback_request: sandbox to host; a suspended execution asking
//     the host to perform an operation (model query, delegated
//     sub-analysis, durable storage access).
//   - callback_response: host to sandbox; the answer that resumes the
//     suspended execution.
//
// For execute/result frames the correlation id is the session's
// execution counter; for callback frames it is the per-session call
// id. Exactly one execute is outstanding per session at a time, and a
// suspended execution has exactly one outstanding callback, so ids
// never interleave ambiguously.
//
// Callback operations form a closed set (the Op constants). The
// dispatcher on the host side is a fixed table over that set; an
// unrecognized operation is a protocol error answered as data, never
// a lookup failure.
//
// Malformed input (unparseable line, unknown kind, missing required
// fields, oversize record) surfaces as *ProtocolError from the
// decoder. The framing self-heals at the next newline, so a protocol
// error aborts at most the in-flight request, not the session.
//
// JSON rather than a binary encoding is deliberate: the channel is a
// debugging surface. A transcript of a session is readable with no
// tooling, and the volume of frame traffic (tens of records per
// analysis) makes encoding efficiency irrelevant. Stored data takes
// the opposite trade; see lib/codec.
package wire
