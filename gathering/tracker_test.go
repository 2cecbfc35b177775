// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gathering

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/kvrtc/lib/clock"
	"github.com/bureau-foundation/kvrtc/lib/testutil"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func hostCandidate(port uint16) *webrtc.ICECandidate {
	return &webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    "192.0.2.10",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	}
}

// finals records onFinal invocations.
type finals struct {
	mu     sync.Mutex
	states []State
}

func (f *finals) record(state State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
}

func (f *finals) get() []State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]State(nil), f.states...)
}

func TestNaturalCompletion(t *testing.T) {
	fake := clock.Fake(epoch)
	var calls finals
	tracker := New(fake, 10*time.Second, calls.record)
	tracker.Start()

	tracker.Observe(hostCandidate(50000))
	tracker.Observe(hostCandidate(50001))
	if tracker.State() != InProgress {
		t.Fatalf("state = %s before completion", tracker.State())
	}
	tracker.Observe(nil)

	testutil.RequireClosed(t, tracker.Done(), "Done after completion")
	if tracker.State() != Complete {
		t.Fatalf("state = %s, want complete", tracker.State())
	}
	if tracker.Candidates() != 2 {
		t.Fatalf("candidates = %d, want 2", tracker.Candidates())
	}
	if fake.PendingCount() != 0 {
		t.Fatal("timeout still armed after natural completion")
	}

	fake.Advance(time.Minute)
	tracker.Observe(nil)
	if got := calls.get(); len(got) != 1 || got[0] != Complete {
		t.Fatalf("onFinal calls = %v, want [complete]", got)
	}
}

func TestTimeoutFinalizesOnce(t *testing.T) {
	fake := clock.Fake(epoch)
	var calls finals
	tracker := New(fake, 10*time.Second, calls.record)
	tracker.Start()
	tracker.Observe(hostCandidate(50000))

	fake.Advance(10*time.Second - time.Millisecond)
	if len(calls.get()) != 0 {
		t.Fatal("finalized before the timeout")
	}

	fake.Advance(time.Millisecond)
	if got := calls.get(); len(got) != 1 || got[0] != TimedOut {
		t.Fatalf("onFinal calls = %v, want [timed-out]", got)
	}
	if !fake.Now().Equal(epoch.Add(10 * time.Second)) {
		t.Fatalf("finalized at %v", fake.Now())
	}

	// Late events change nothing.
	tracker.Observe(hostCandidate(50001))
	tracker.Observe(nil)
	if got := calls.get(); len(got) != 1 {
		t.Fatalf("late completion produced onFinal calls %v", got)
	}
	if tracker.State() != TimedOut || tracker.Candidates() != 1 {
		t.Fatalf("state = %s with %d candidates, want timed-out with 1", tracker.State(), tracker.Candidates())
	}
}

func TestStopDisarms(t *testing.T) {
	fake := clock.Fake(epoch)
	var calls finals
	tracker := New(fake, time.Second, calls.record)
	tracker.Start()
	tracker.Stop()

	fake.Advance(time.Minute)
	tracker.Observe(nil)
	if len(calls.get()) != 0 {
		t.Fatalf("stopped tracker finalized: %v", calls.get())
	}
	select {
	case <-tracker.Done():
		t.Fatal("Done closed on a stopped tracker")
	default:
	}
}

func TestStartIsIdempotent(t *testing.T) {
	fake := clock.Fake(epoch)
	tracker := New(fake, time.Second, nil)
	tracker.Start()
	tracker.Start()
	if fake.PendingCount() != 1 {
		t.Fatalf("%d timers armed, want 1", fake.PendingCount())
	}
	fake.Advance(time.Second)
	testutil.RequireClosed(t, tracker.Done(), "Done after timeout")
}

func TestDefaultTimeout(t *testing.T) {
	fake := clock.Fake(epoch)
	tracker := New(fake, 0, nil)
	tracker.Start()
	fake.Advance(DefaultTimeout)
	if tracker.State() != TimedOut {
		t.Fatalf("state = %s after %v, want timed-out", tracker.State(), DefaultTimeout)
	}
}
