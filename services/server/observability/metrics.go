// Copyright (C) 2025 Cisco Systems, Inc.
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package observability provides Prometheus metrics for the REST facade
// and the similarity pipeline. Metrics are exposed on /metrics; all
// operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "first"
	serverSubsystem  = "server"
	engineSubsystem  = "engines"
)

// Metrics holds the facade's Prometheus collectors. Initialize once at
// startup via NewMetrics.
type Metrics struct {
	// RequestsTotal counts API requests by endpoint and outcome.
	// Labels: endpoint (checkin, metadata_add, ...), status (ok, failed).
	RequestsTotal *prometheus.CounterVec

	// FunctionsIndexedTotal counts functions pushed through engine add.
	FunctionsIndexedTotal prometheus.Counter

	// ScanDurationSeconds measures end-to-end scan latency per batch
	// entry.
	ScanDurationSeconds prometheus.Histogram

	// EngineHitsTotal counts scan hits per contributing engine.
	// Labels: engine.
	EngineHitsTotal *prometheus.CounterVec
}

// NewMetrics registers the facade collectors with the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a private
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: serverSubsystem,
			Name:      "requests_total",
			Help:      "API requests by endpoint and outcome.",
		}, []string{"endpoint", "status"}),
		FunctionsIndexedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "functions_indexed_total",
			Help:      "Functions handed to the engine pipeline for indexing.",
		}),
		ScanDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "scan_duration_seconds",
			Help:      "Similarity scan latency per batch entry.",
			Buckets:   prometheus.DefBuckets,
		}),
		EngineHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: engineSubsystem,
			Name:      "hits_total",
			Help:      "Scan hits per contributing engine.",
		}, []string{"engine"}),
	}
}

// Observe records one request outcome.
func (m *Metrics) Observe(endpoint string, failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "failed"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}
