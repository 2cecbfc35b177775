// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfter(t *testing.T) {
	fake := Fake(epoch)
	channel := fake.After(3 * time.Second)

	fake.Advance(2 * time.Second)
	select {
	case <-channel:
		t.Fatal("After fired before its deadline")
	default:
	}

	fake.Advance(time.Second)
	select {
	case fired := <-channel:
		if want := epoch.Add(3 * time.Second); !fired.Equal(want) {
			t.Fatalf("fired at %v, want %v", fired, want)
		}
	default:
		t.Fatal("After did not fire at its deadline")
	}
	if fake.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d after firing, want 0", fake.PendingCount())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	fake := Fake(epoch)
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) should deliver immediately")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	fake := Fake(epoch)
	calls := 0
	timer := fake.AfterFunc(10*time.Second, func() { calls++ })

	if !timer.Stop() {
		t.Fatal("first Stop should report the timer was armed")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}
	fake.Advance(time.Minute)
	if calls != 0 {
		t.Fatalf("stopped callback ran %d times", calls)
	}
}

func TestFakeAfterFuncSeesDeadline(t *testing.T) {
	fake := Fake(epoch)
	var seen time.Time
	fake.AfterFunc(10*time.Second, func() { seen = fake.Now() })

	fake.Advance(time.Minute)
	if want := epoch.Add(10 * time.Second); !seen.Equal(want) {
		t.Fatalf("Now inside callback = %v, want %v", seen, want)
	}
	if got := fake.Now(); !got.Equal(epoch.Add(time.Minute)) {
		t.Fatalf("Now after Advance = %v", got)
	}
	timerStopped := fake.AfterFunc(time.Second, func() {}).Stop()
	if !timerStopped {
		t.Fatal("Stop on a fresh timer should report true")
	}
}

func TestFakeTickerFiresPerPeriod(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 1; i <= 3; i++ {
		fake.Advance(time.Second)
		select {
		case fired := <-ticker.C:
			if want := epoch.Add(time.Duration(i) * time.Second); !fired.Equal(want) {
				t.Fatalf("tick %d at %v, want %v", i, fired, want)
			}
		default:
			t.Fatalf("tick %d not delivered", i)
		}
	}

	// Three periods at once: the first tick fills the buffer and the
	// rest are dropped.
	fake.Advance(3 * time.Second)
	<-ticker.C
	select {
	case <-ticker.C:
		t.Fatal("ticker buffered more than one tick")
	default:
	}
}

func TestFakeTickerStop(t *testing.T) {
	fake := Fake(epoch)
	ticker := fake.NewTicker(time.Second)
	ticker.Stop()
	if fake.PendingCount() != 0 {
		t.Fatalf("PendingCount = %d after Stop, want 0", fake.PendingCount())
	}
	fake.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker delivered")
	default:
	}
}

func TestFakeTickerPanicsOnZeroPeriod(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewTicker(0) did not panic")
		}
	}()
	Fake(epoch).NewTicker(0)
}

func TestFakeOrdering(t *testing.T) {
	fake := Fake(epoch)
	var order []string
	fake.AfterFunc(2*time.Second, func() { order = append(order, "late") })
	fake.AfterFunc(time.Second, func() { order = append(order, "first") })
	fake.AfterFunc(time.Second, func() { order = append(order, "second") })

	fake.Advance(5 * time.Second)
	want := []string{"first", "second", "late"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	fake := Fake(epoch)
	done := make(chan struct{})
	go func() {
		<-fake.After(time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second): //nolint:realclock // test deadline
		t.Fatal("goroutine not released by Advance")
	}
}

func TestRealClock(t *testing.T) {
	wall := Real()
	before := time.Now()
	if wall.Now().Before(before) {
		t.Fatal("Real().Now went backwards")
	}
	fired := make(chan struct{})
	wall.AfterFunc(time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(5 * time.Second): //nolint:realclock // test deadline
		t.Fatal("real AfterFunc never fired")
	}
}
