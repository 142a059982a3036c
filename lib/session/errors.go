// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "errors"

// Sentinel errors reported by the session layer. They never travel on
// the wire; failures inside the sandbox arrive as error details in
// result frames instead.
var (
	// ErrNotStarted reports an Execute before Start.
	ErrNotStarted = errors.New("session: not started")

	// ErrSessionBusy reports an execute already in flight. The session
	// is untouched; retry once the in-flight call completes.
	ErrSessionBusy = errors.New("session: execute already in flight")

	// ErrSessionTimedOut reports an expired idle, absolute, or
	// per-call deadline. The session is terminated.
	ErrSessionTimedOut = errors.New("session: timed out")

	// ErrSandboxCrashed reports a dead sandbox process or channel. The
	// session is terminated.
	ErrSandboxCrashed = errors.New("session: sandbox crashed")

	// ErrTerminated reports use of a session that was already shut
	// down.
	ErrTerminated = errors.New("session: terminated")
)
