// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports samples to Prometheus.
type Metrics struct {
	bitrate *prometheus.GaugeVec
	samples *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on registerer
// (skipped when nil). Callers usually pass a prefixed registerer, see
// prometheus.WrapRegistererWithPrefix.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		bitrate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bitrate_kbps",
			Help: "Most recent media bitrate in kilobits per second.",
		}, []string{"direction"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_samples_total",
			Help: "Bitrate samples taken, by whether the transport reported a counter.",
		}, []string{"direction", "result"}),
	}
	if registerer != nil {
		for _, collector := range []prometheus.Collector{metrics.bitrate, metrics.samples} {
			if err := registerer.Register(collector); err != nil {
				return nil, err
			}
		}
	}
	return metrics, nil
}

func (m *Metrics) observe(sample Sample) {
	direction := sample.Direction.String()
	m.bitrate.WithLabelValues(direction).Set(sample.RateKbps)
	result := "reported"
	if !sample.Reported {
		result = "missing"
	}
	m.samples.WithLabelValues(direction, result).Inc()
}
