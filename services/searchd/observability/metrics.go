// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for searchd.
//
// # Description
//
// This package implements Prometheus metrics for monitoring quota-gated
// streaming search operations. Metrics include:
//   - Request counters (by endpoint, status)
//   - Quota decision counters (by subject kind, outcome)
//   - Stage duration histograms
//   - Active stream gauges
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "scholarstream"

// Subsystem for search metrics
const searchSubsystem = "search"

// SearchMetrics holds all Prometheus metrics for search operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring search
// performance and quota behavior. Initialize once at startup via
// InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type SearchMetrics struct {
	// RequestsTotal counts requests by endpoint and status.
	// Labels: endpoint (paper_search, quota, ...), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// QuotaDecisionsTotal counts admission outcomes.
	// Labels: kind (anon, free, pro), outcome (admitted, denied)
	QuotaDecisionsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage pipeline latency.
	// Labels: stage (rewrite, retrieve, enrich, filter)
	StageDurationSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open search streams.
	ActiveStreams prometheus.Gauge

	// ErrorsTotal counts terminal error frames by code.
	// Labels: code (UPSTREAM_FAILURE, TIMEOUT, ...)
	ErrorsTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	ClientDisconnectsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance of SearchMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *SearchMetrics

// InitMetrics initializes the default metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *SearchMetrics {
	DefaultMetrics = &SearchMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "requests_total",
				Help:      "Total requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		QuotaDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "quota_decisions_total",
				Help:      "Quota admission outcomes by subject kind",
			},
			[]string{"kind", "outcome"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total search stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),

		ActiveStreams: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open search streams",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "errors_total",
				Help:      "Terminal error frames by code",
			},
			[]string{"code"},
		),

		ClientDisconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: searchSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Client disconnections during streaming",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request. No-op on a nil receiver so
// handlers work without initialized metrics in tests.
func (m *SearchMetrics) RecordRequest(endpoint, status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// RecordQuotaDecision records one admission outcome.
func (m *SearchMetrics) RecordQuotaDecision(kind, outcome string) {
	if m == nil {
		return
	}
	m.QuotaDecisionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordStageDuration records one pipeline stage's wall time.
func (m *SearchMetrics) RecordStageDuration(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordStreamDuration records a finished stream's wall time.
func (m *SearchMetrics) RecordStreamDuration(status string, seconds float64) {
	if m == nil {
		return
	}
	m.StreamDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// StreamStarted increments the active stream gauge.
func (m *SearchMetrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

// StreamEnded decrements the active stream gauge.
func (m *SearchMetrics) StreamEnded() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

// RecordError records a terminal error frame.
func (m *SearchMetrics) RecordError(code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(code).Inc()
}

// RecordClientDisconnect records a mid-stream disconnect.
func (m *SearchMetrics) RecordClientDisconnect() {
	if m == nil {
		return
	}
	m.ClientDisconnectsTotal.Inc()
}
