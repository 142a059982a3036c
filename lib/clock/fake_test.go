// Copyright 2026 The Fathom Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	fake := Fake(testEpoch)
	if got := fake.Now(); !got.Equal(testEpoch) {
		t.Fatalf("Now() = %v, want %v", got, testEpoch)
	}

	fake.Advance(3 * time.Second)
	want := testEpoch.Add(3 * time.Second)
	if got := fake.Now(); !got.Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", got, want)
	}
}

func TestFakeAfter(t *testing.T) {
	fake := Fake(testEpoch)
	ch := fake.After(5 * time.Second)

	select {
	case <-ch:
		t.Fatal("After fired before Advance")
	default:
	}

	fake.Advance(4 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-ch:
		want := testEpoch.Add(5 * time.Second)
		if !fired.Equal(want) {
			t.Fatalf("fire time = %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
}

func TestFakeAfterImmediate(t *testing.T) {
	fake := Fake(testEpoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) did not fire immediately")
	}
	if n := fake.PendingCount(); n != 0 {
		t.Fatalf("PendingCount after immediate fire = %d, want 0", n)
	}
}

func TestFakeNewTimerStop(t *testing.T) {
	fake := Fake(testEpoch)
	timer := fake.NewTimer(time.Second)

	if !timer.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if timer.Stop() {
		t.Fatal("second Stop returned true")
	}

	fake.Advance(2 * time.Second)
	select {
	case <-timer.C:
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestFakeNewTimerImmediate(t *testing.T) {
	fake := Fake(testEpoch)
	timer := fake.NewTimer(0)
	select {
	case <-timer.C:
	default:
		t.Fatal("NewTimer(0) did not fire immediately")
	}
	if timer.Stop() {
		t.Fatal("Stop after immediate fire returned true")
	}
}

func TestFakeTimerFiresAtDeadline(t *testing.T) {
	fake := Fake(testEpoch)
	timer := fake.NewTimer(100 * time.Millisecond)

	fake.Advance(99 * time.Millisecond)
	select {
	case <-timer.C:
		t.Fatal("timer fired before its deadline")
	default:
	}

	fake.Advance(time.Millisecond)
	select {
	case <-timer.C:
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestFakeSleepBlocksUntilAdvance(t *testing.T) {
	fake := Fake(testEpoch)
	done := make(chan struct{})

	go func() {
		fake.Sleep(time.Minute)
		close(done)
	}()

	fake.WaitForTimers(1)
	select {
	case <-done:
		t.Fatal("Sleep returned before Advance")
	default:
	}

	fake.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance")
	}
}

func TestFakePendingCount(t *testing.T) {
	fake := Fake(testEpoch)
	fake.After(time.Second)
	timer := fake.NewTimer(2 * time.Second)

	if n := fake.PendingCount(); n != 2 {
		t.Fatalf("PendingCount = %d, want 2", n)
	}

	timer.Stop()
	if n := fake.PendingCount(); n != 1 {
		t.Fatalf("PendingCount after Stop = %d, want 1", n)
	}

	fake.Advance(time.Second)
	if n := fake.PendingCount(); n != 0 {
		t.Fatalf("PendingCount after Advance = %d, want 0", n)
	}
}
