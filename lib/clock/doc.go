// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the injectable time source used by the poller, the
// gathering tracker, and the bitrate sampler.
//
// Components hold a Clock field instead of calling the time package.
// Tests construct Fake, let the goroutine under test register its
// timer, then step time forward:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go sampler.Run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second)
//
// WaitForTimers removes the race between a goroutine arming a ticker
// and the test advancing past its deadline.
package clock
