// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/kvrtc/lib/clock"
	"github.com/bureau-foundation/kvrtc/store"
)

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	Store  store.Store
	Clock  clock.Clock
	Logger *slog.Logger

	// Compression is applied by Publish.
	Compression Compression

	// PublishAttempts bounds Publish. Values below 1 mean 1.
	PublishAttempts int

	// PublishDelay separates Publish attempts.
	PublishDelay time.Duration
}

// Adapter wraps a Store with watch, wait, and publish semantics. At
// most one Watch per key is active at a time.
type Adapter struct {
	store           store.Store
	clock           clock.Clock
	logger          *slog.Logger
	compression     Compression
	publishAttempts int
	publishDelay    time.Duration

	mu     sync.Mutex
	active map[string]*Subscription
}

// NewAdapter returns an Adapter. Store and Clock are required.
func NewAdapter(config AdapterConfig) *Adapter {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := config.PublishAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Adapter{
		store:           config.Store,
		clock:           config.Clock,
		logger:          logger,
		compression:     config.Compression,
		publishAttempts: attempts,
		publishDelay:    config.PublishDelay,
		active:          make(map[string]*Subscription),
	}
}

// Watch polls key every interval, starting immediately, and calls
// onChange with each new non-empty value. Returning nil from onChange
// ends the subscription; returning an error logs it and keeps polling
// for the next distinct value. Watch cancels any earlier subscription
// on the same key. Cancelling ctx also ends the subscription.
func (a *Adapter) Watch(ctx context.Context, key string, interval time.Duration, onChange func(ctx context.Context, value string) error) *Subscription {
	subscription := &Subscription{
		key:      key,
		adapter:  a,
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	a.mu.Lock()
	previous := a.active[key]
	a.active[key] = subscription
	a.mu.Unlock()
	if previous != nil {
		a.logger.Debug("replacing watch", "key", key)
		previous.Cancel()
	}

	ticker := a.clock.NewTicker(interval)
	go subscription.run(ctx, ticker)
	return subscription
}

// CancelAll cancels every active subscription.
func (a *Adapter) CancelAll() {
	a.mu.Lock()
	subscriptions := make([]*Subscription, 0, len(a.active))
	for _, subscription := range a.active {
		subscriptions = append(subscriptions, subscription)
	}
	a.mu.Unlock()
	for _, subscription := range subscriptions {
		subscription.Cancel()
	}
}

func (a *Adapter) release(subscription *Subscription) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active[subscription.key] == subscription {
		delete(a.active, subscription.key)
	}
}

// WaitFor reads key up to retries times, waiting delay after each
// empty or failed read, and returns the first non-empty value. When
// every attempt misses it returns *RetryExhaustedError.
func (a *Adapter) WaitFor(ctx context.Context, key string, retries int, delay time.Duration) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		value, err := a.store.Get(ctx, key)
		switch {
		case err != nil:
			lastErr = err
			a.logger.Warn("waiting for key: read failed", "key", key, "attempt", attempt, "error", err)
		case value != "":
			return value, nil
		default:
			a.logger.Debug("waiting for key: not yet set", "key", key, "attempt", attempt)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-a.clock.After(delay):
		}
	}
	return "", &RetryExhaustedError{Key: key, Attempts: retries, LastErr: lastErr}
}

// Publish encodes record and writes it under key, retrying store
// failures up to the configured bound.
func (a *Adapter) Publish(ctx context.Context, key string, record Record) error {
	value, err := Encode(record, a.compression)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= a.publishAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-a.clock.After(a.publishDelay):
			}
		}
		lastErr = a.store.Set(ctx, key, value)
		if lastErr == nil {
			a.logger.Info("published description", "key", key, "type", record.Type, "bytes", len(value))
			return nil
		}
		a.logger.Warn("publishing description failed", "key", key, "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("signaling: publishing %s after %d attempts: %w", key, a.publishAttempts, lastErr)
}

// Clear writes the empty sentinel to each key.
func (a *Adapter) Clear(ctx context.Context, keys ...string) error {
	var errs []error
	for _, key := range keys {
		if err := a.store.Set(ctx, key, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get reads key once.
func (a *Adapter) Get(ctx context.Context, key string) (string, error) {
	return a.store.Get(ctx, key)
}
