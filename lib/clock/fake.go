// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// FakeClock is a Clock that only moves when Advance is called. It is
// safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, so a callback
// must not call Advance itself.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	nextSeq uint64
	pending []*scheduled
	changed *sync.Cond
}

// scheduled is one armed timer, ticker, or AfterFunc.
type scheduled struct {
	at  time.Time
	seq uint64

	// Exactly one of channel and callback is set.
	channel  chan time.Time
	callback func()

	// period is non-zero for tickers, which are re-armed after firing.
	period time.Duration
}

// Fake returns a FakeClock reading initial.
func Fake(initial time.Time) *FakeClock {
	fake := &FakeClock{now: initial}
	fake.changed = sync.NewCond(&fake.mu)
	return fake
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After returns a channel that receives when the clock passes now+d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	channel := make(chan time.Time, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.scheduleLocked(&scheduled{at: c.now.Add(d), channel: channel})
	return channel
}

// AfterFunc runs f during the Advance call that passes now+d. A
// non-positive d runs f before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}
	c.mu.Lock()
	entry := &scheduled{at: c.now.Add(d), callback: f}
	c.scheduleLocked(entry)
	c.mu.Unlock()
	return &Timer{stop: func() bool { return c.cancel(entry) }}
}

// NewTicker returns a ticker firing every d of fake time.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	channel := make(chan time.Time, 1)
	c.mu.Lock()
	entry := &scheduled{at: c.now.Add(d), channel: channel, period: d}
	c.scheduleLocked(entry)
	c.mu.Unlock()
	return &Ticker{C: channel, stop: func() { c.cancel(entry) }}
}

// Advance moves the clock forward by d, firing everything that comes
// due in deadline order (ties in arming order). Now reports each
// entry's deadline while it fires. A ticker spanned by several periods
// fires once per period; sends that find C full are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		entry := c.earliestLocked(target)
		if entry == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = entry.at
		fireAt := entry.at
		if entry.period > 0 {
			entry.at = entry.at.Add(entry.period)
		} else {
			c.removeLocked(entry)
		}
		c.mu.Unlock()

		if entry.callback != nil {
			entry.callback()
			continue
		}
		select {
		case entry.channel <- fireAt:
		default:
		}
	}
}

// WaitForTimers blocks until at least n entries are armed.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of armed entries.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *FakeClock) scheduleLocked(entry *scheduled) {
	entry.seq = c.nextSeq
	c.nextSeq++
	c.pending = append(c.pending, entry)
	c.changed.Broadcast()
}

func (c *FakeClock) cancel(entry *scheduled) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(entry)
}

func (c *FakeClock) removeLocked(entry *scheduled) bool {
	for i, candidate := range c.pending {
		if candidate == entry {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (c *FakeClock) earliestLocked(target time.Time) *scheduled {
	var best *scheduled
	for _, entry := range c.pending {
		if entry.at.After(target) {
			continue
		}
		if best == nil || entry.at.Before(best.at) ||
			(entry.at.Equal(best.at) && entry.seq < best.seq) {
			best = entry
		}
	}
	return best
}
