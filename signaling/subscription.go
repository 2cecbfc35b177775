// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/kvrtc/lib/clock"
)

// Subscription is one active Watch.
type Subscription struct {
	key      string
	adapter  *Adapter
	onChange func(ctx context.Context, value string) error

	stop     chan struct{}
	done     chan struct{}
	haltOnce sync.Once

	// deliverMu serializes callback invocations with Cancel: once
	// cancelled is set under it, no further callback starts.
	deliverMu  sync.Mutex
	cancelled  atomic.Bool
	inCallback atomic.Bool
	satisfied  atomic.Bool

	// Touched only by the polling goroutine.
	lastDigest [32]byte
	seen       bool
}

// Key returns the watched key.
func (s *Subscription) Key() string { return s.key }

// Done is closed when the polling goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Satisfied reports whether a callback accepted a value.
func (s *Subscription) Satisfied() bool { return s.satisfied.Load() }

// Cancel stops polling. It is safe to call more than once, from any
// goroutine, including from inside the callback. When Cancel returns,
// no new callback will start. A callback already running may still be
// finishing; Done is closed once it has returned.
func (s *Subscription) Cancel() {
	s.halt()
	if !s.inCallback.Load() {
		s.deliverMu.Lock()
		//nolint:staticcheck // empty critical section waits out a delivery that has not yet reached the callback
		s.deliverMu.Unlock()
	}
	s.adapter.release(s)
}

func (s *Subscription) halt() {
	s.haltOnce.Do(func() {
		s.cancelled.Store(true)
		close(s.stop)
	})
}

func (s *Subscription) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			s.halt()
			s.adapter.release(s)
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Subscription) poll(ctx context.Context) {
	if s.cancelled.Load() {
		return
	}
	logger := s.adapter.logger

	value, err := s.adapter.store.Get(ctx, s.key)
	if err != nil {
		logger.Warn("polling store failed", "key", s.key, "error", err)
		return
	}

	digest := blake3.Sum256([]byte(value))
	if s.seen && digest == s.lastDigest {
		return
	}
	s.seen = true
	s.lastDigest = digest
	if value == "" {
		logger.Debug("watched key cleared", "key", s.key)
		return
	}

	s.deliver(ctx, value)
}

func (s *Subscription) deliver(ctx context.Context, value string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.cancelled.Load() {
		return
	}

	s.inCallback.Store(true)
	err := s.onChange(ctx, value)
	s.inCallback.Store(false)

	if err != nil {
		s.adapter.logger.Warn("watched value rejected", "key", s.key, "error", err)
		return
	}
	s.satisfied.Store(true)
	s.halt()
	s.adapter.release(s)
	s.adapter.logger.Debug("watch satisfied", "key", s.key)
}
