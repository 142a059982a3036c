// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now, time.After, time.NewTimer, or time.Sleep directly. In
// production, Real() provides the standard library behavior. In tests,
// Fake() provides a deterministic clock that advances only when Advance
// is called.
//
// Session idle and absolute deadlines, per-execute timeouts, and run
// wall-clock budgets are all measured against a Clock, which is how the
// timeout tests run in microseconds instead of real time.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Session struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	s := session.New(session.Config{Clock: clock.Real()})
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	s := session.New(session.Config{Clock: c})
//	// ... start goroutines ...
//	c.WaitForTimers(1)         // wait for a timer to register
//	c.Advance(5 * time.Second) // fire it deterministically
//
// # FakeClock Synchronization
//
// When a goroutine calls Sleep, After, or NewTimer on a FakeClock, it
// registers a pending waiter. Use WaitForTimers to block until a
// specific number of waiters are registered before calling Advance.
// This eliminates the race between timer registration and time
// advancement that plagues tests using time.Sleep for synchronization.
package clock
