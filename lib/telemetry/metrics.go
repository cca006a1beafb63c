// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the viewer's Prometheus metrics.
//
// A nil *Metrics is valid and records nothing, so components take an
// optional *Metrics in their config and call it unconditionally.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "liveview"

// Metrics holds the collectors recorded by the auth, gateway, and poll
// packages.
type Metrics struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	outcomes      *prometheus.CounterVec
	historyLength prometheus.Gauge
	lastValid     prometheus.Gauge
}

// New creates the collectors and registers them with registerer.
// Registration panics on duplicate names, matching MustRegister.
func New(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP attempts against the imaging service by endpoint and status code.",
		}, []string{"endpoint", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of individual HTTP attempts against the imaging service.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"endpoint"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Request retries by endpoint and kind (transient, auth).",
		}, []string{"endpoint", "kind"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by result.",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_outcomes_total",
			Help:      "Poll and manual refresh outcomes.",
		}, []string{"outcome"}),
		historyLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_entries",
			Help:      "Entries currently held in the in-memory history.",
		}),
		lastValid: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_valid_frame_timestamp_seconds",
			Help:      "Unix time at which the last valid frame was published.",
		}),
	}
	registerer.MustRegister(
		metrics.requests,
		metrics.latency,
		metrics.retries,
		metrics.refreshes,
		metrics.outcomes,
		metrics.historyLength,
		metrics.lastValid,
	)
	return metrics
}

// ObserveRequest records one HTTP attempt. A status of 0 means the
// attempt failed before a response arrived.
func (m *Metrics) ObserveRequest(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.requests.WithLabelValues(endpoint, code).Inc()
	m.latency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// CountRetry records a retry of endpoint.
func (m *Metrics) CountRetry(endpoint, kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(endpoint, kind).Inc()
}

// CountRefresh records a token refresh attempt.
func (m *Metrics) CountRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

// CountOutcome records one classified poll outcome.
func (m *Metrics) CountOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// SetHistoryLength records the current history size.
func (m *Metrics) SetHistoryLength(length int) {
	if m == nil {
		return
	}
	m.historyLength.Set(float64(length))
}

// SetLastValid records when the last valid frame was published.
func (m *Metrics) SetLastValid(when time.Time) {
	if m == nil {
		return
	}
	m.lastValid.Set(float64(when.UnixNano()) / 1e9)
}
