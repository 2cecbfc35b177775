// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gathering decides when a local description is final.
//
// With vanilla ICE every candidate has to be in the description before
// it is published, because the store carries exactly one message per
// side. The transport announces each discovered candidate and then a
// nil candidate when it is done. On some networks the nil never comes
// (a STUN server that does not answer keeps gathering open), so a
// Tracker also arms a timer: whichever of the two happens first
// finalizes, exactly once, and the other is disarmed. A timed-out
// description carries the candidates found so far, which is usually
// enough to connect.
package gathering

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/kvrtc/lib/clock"
)

// DefaultTimeout bounds gathering when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// State is the gathering outcome.
type State int

const (
	InProgress State = iota
	Complete
	TimedOut
)

func (s State) String() string {
	switch s {
	case InProgress:
		return "in-progress"
	case Complete:
		return "complete"
	case TimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Final reports whether s ends gathering.
func (s State) Final() bool { return s == Complete || s == TimedOut }

// Tracker watches one gathering run.
type Tracker struct {
	clock   clock.Clock
	timeout time.Duration
	onFinal func(State)

	mu         sync.Mutex
	state      State
	candidates int
	started    bool
	stopped    bool
	timer      *clock.Timer
	done       chan struct{}
}

// New returns a Tracker that calls onFinal (which may be nil) once,
// with Complete or TimedOut. onFinal runs on the goroutine that
// delivered the deciding event.
func New(clk clock.Clock, timeout time.Duration, onFinal func(State)) *Tracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Tracker{
		clock:   clk,
		timeout: timeout,
		onFinal: onFinal,
		done:    make(chan struct{}),
	}
}

// Start arms the timeout. Call it before the transport starts
// gathering (that is, before setting the local description) so no
// event can precede it. Later calls do nothing.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.stopped || t.state.Final() {
		return
	}
	t.started = true
	t.timer = t.clock.AfterFunc(t.timeout, func() { t.finish(TimedOut) })
}

// Observe feeds one transport candidate event. A nil candidate means
// gathering completed. Events after finalization are ignored.
func (t *Tracker) Observe(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		t.finish(Complete)
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.state.Final() && !t.stopped {
		t.candidates++
	}
}

// Stop disarms the tracker without finalizing. onFinal will not run.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
	}
}

// State returns the current gathering state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Candidates returns how many candidates arrived before finalization.
func (t *Tracker) Candidates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.candidates
}

// Done is closed when gathering finalizes.
func (t *Tracker) Done() <-chan struct{} { return t.done }

func (t *Tracker) finish(state State) {
	t.mu.Lock()
	if t.state.Final() || t.stopped {
		t.mu.Unlock()
		return
	}
	t.state = state
	if t.timer != nil && state != TimedOut {
		t.timer.Stop()
	}
	close(t.done)
	onFinal := t.onFinal
	t.mu.Unlock()

	if onFinal != nil {
		onFinal(state)
	}
}
