// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry turns cumulative transport byte counters into a
// bitrate.
//
// A Sampler reads the counter once per interval and reports
//
//	kbps = (current - previous) * 8 / 1000 / interval_seconds
//
// A tick with no report counts as no traffic: the rate is zero and the
// baseline stays at the last real reading, so the next real reading
// yields the correct delta. A counter that goes backwards belongs to a
// new transport; the sampler rebases on it with a zero rate. The first
// reading is a baseline and also reports zero.
//
// Sampling is observability only and has no effect on negotiation.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/kvrtc/lib/clock"
	"github.com/bureau-foundation/kvrtc/transport"
)

// DefaultInterval is the sampling period.
const DefaultInterval = time.Second

// CounterSource reports cumulative byte counters.
type CounterSource interface {
	ByteCount(direction transport.Direction) (uint64, bool)
}

// Sample is one tick's reading.
type Sample struct {
	At            time.Time
	Direction     transport.Direction
	Bytes         uint64
	PreviousBytes uint64
	RateKbps      float64

	// Reported is false when the source had no counter this tick.
	Reported bool
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	Source    CounterSource
	Direction transport.Direction
	Clock     clock.Clock

	// Interval defaults to DefaultInterval.
	Interval time.Duration

	// Metrics, if set, receives every sample.
	Metrics *Metrics

	// OnSample, if set, is called with every sample from Run.
	OnSample func(Sample)

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Sampler computes bitrate samples.
type Sampler struct {
	source    CounterSource
	direction transport.Direction
	clock     clock.Clock
	interval  time.Duration
	metrics   *Metrics
	onSample  func(Sample)
	logger    *slog.Logger

	mu       sync.Mutex
	previous uint64
	baseline bool
}

// NewSampler returns a Sampler. Source and Clock are required.
func NewSampler(config SamplerConfig) *Sampler {
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		source:    config.Source,
		direction: config.Direction,
		clock:     config.Clock,
		interval:  interval,
		metrics:   config.Metrics,
		onSample:  config.OnSample,
		logger:    logger,
	}
}

// Tick takes one sample.
func (s *Sampler) Tick() Sample {
	current, reported := s.source.ByteCount(s.direction)

	s.mu.Lock()
	sample := Sample{
		At:            s.clock.Now(),
		Direction:     s.direction,
		PreviousBytes: s.previous,
		Reported:      reported,
	}
	switch {
	case !reported:
		sample.Bytes = s.previous
	case !s.baseline || current < s.previous:
		sample.Bytes = current
		s.previous = current
		s.baseline = true
	default:
		sample.Bytes = current
		sample.RateKbps = float64(current-s.previous) * 8 / 1000 / s.interval.Seconds()
		s.previous = current
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.observe(sample)
	}
	return sample
}

// Run samples every interval until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Debug("bitrate sampling started", "direction", s.direction.String(), "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample := s.Tick()
			if s.onSample != nil {
				s.onSample(sample)
			}
		}
	}
}
