// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm defines the language-model capability injected into
// sessions. The core system treats the model as an opaque text
// function: a prompt goes in, text comes out. No prompting format is
// defined here and nothing in this package inspects prompt or
// response semantics.
//
// Querier is the single-call interface. Batch fans a prompt list out
// concurrently and returns per-slot outcomes in request order, which
// is what the batched callback primitive requires. Two
// implementations ship: OpenAI, a minimal chat-completions client for
// any OpenAI-compatible endpoint, and Scripted, a deterministic
// querier for tests and offline runs.
package llm
