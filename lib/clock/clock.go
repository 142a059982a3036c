// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time operations for testability. Production code
// injects Real(); tests inject Fake() and advance it deterministically.
//
// Every function that would otherwise call time.Now, time.After,
// time.NewTimer, or time.Sleep should accept a Clock parameter (or be
// a method on a struct with a Clock field) instead of touching the
// time package directly. Session deadlines and run budgets all flow
// through this interface.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that delivers the fire time on C after
	// duration d. Unlike After, the timer can be stopped early,
	// releasing its waiter. If d <= 0, C receives immediately.
	NewTimer(d time.Duration) *Timer

	// Sleep pauses the current goroutine for at least duration d.
	// Equivalent to time.Sleep.
	Sleep(d time.Duration)
}

// Timer is a stoppable one-shot timer. Read the fire time from C.
type Timer struct {
	// C delivers the fire time. Buffered with capacity 1.
	C <-chan time.Time

	stopFunc func() bool
}

// Stop prevents the Timer from firing. Returns true if the call stops
// the timer, false if the timer already fired or was stopped. Stop
// does not close C.
func (t *Timer) Stop() bool { return t.stopFunc() }
