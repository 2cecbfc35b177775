// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds channel helpers shared by the package tests.
// They are the only place the tests wait on the wall clock, and only
// as a hang guard: the behavior under test runs on clock.Fake.
package testutil

import (
	"fmt"
	"time"
)

// Timeout is the hang guard used by the helpers.
const Timeout = 5 * time.Second

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch, failing the test if
// none arrives within Timeout or ch is closed.
//
//	snapshot := testutil.RequireReceive(t, updates, "waiting for Connected")
func RequireReceive[T any](t TB, ch <-chan T, msgAndArgs ...any) T {
	t.Helper()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed: %s", describe(msgAndArgs))
		}
		return value
	case <-time.After(Timeout): //nolint:realclock // hang guard
		t.Fatalf("timed out after %v: %s", Timeout, describe(msgAndArgs))
	}
	panic("unreachable")
}

// RequireClosed waits for ch to close (or deliver), failing the test
// after Timeout.
func RequireClosed[T any](t TB, ch <-chan T, msgAndArgs ...any) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(Timeout): //nolint:realclock // hang guard
		t.Fatalf("timed out after %v waiting for close: %s", Timeout, describe(msgAndArgs))
	}
}

// RequireEmpty fails the test if ch has a value ready right now. It
// does not wait: callers establish quiescence first (for example by
// receiving a later event that is ordered after the one that must not
// happen).
func RequireEmpty[T any](t TB, ch <-chan T, msgAndArgs ...any) {
	t.Helper()
	select {
	case value, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value %v: %s", value, describe(msgAndArgs))
		}
		t.Fatalf("unexpected close: %s", describe(msgAndArgs))
	default:
	}
}

func describe(msgAndArgs []any) string {
	switch {
	case len(msgAndArgs) == 0:
		return "(no message)"
	case len(msgAndArgs) == 1:
		return fmt.Sprint(msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
