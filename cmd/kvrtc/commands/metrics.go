// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bureau-foundation/kvrtc/telemetry"
)

// metricsPrefix namespaces every exported series.
const metricsPrefix = "kvrtc_"

// newMetricsRegistry returns a registry carrying the process and Go
// collectors, and the telemetry metrics registered under metricsPrefix.
func newMetricsRegistry() (*prometheus.Registry, *telemetry.Metrics, error) {
	registry := prometheus.NewPedanticRegistry()
	registry.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	metrics, err := telemetry.NewMetrics(prometheus.WrapRegistererWithPrefix(metricsPrefix, registry))
	if err != nil {
		return nil, nil, err
	}
	return registry, metrics, nil
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return router
}

// startMetrics serves /metrics on addr until ctx is done. An empty addr
// disables metrics and returns nil.
func startMetrics(ctx context.Context, addr string, logger *slog.Logger) (*telemetry.Metrics, error) {
	if addr == "" {
		return nil, nil
	}
	registry, metrics, err := newMetricsRegistry()
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	server := &http.Server{Handler: metricsHandler(registry), ReadHeaderTimeout: 5 * time.Second}

	logger.Info("metrics enabled", "address", listener.Addr().String())
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	return metrics, nil
}
