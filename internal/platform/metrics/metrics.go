// Copyright (c) 2026 Schedula. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package metrics owns the Prometheus registry and the auth instrumentation.

Instrumentation is explicit: an operation starts a [Timer] and stops it with
an outcome label. A nil [*AuthMetrics] is valid and records nothing, so tests
and CLI commands can skip wiring a registry.

Usage:

	timer := authMetrics.Start(metrics.OpLogin)
	defer func() { timer.Stop(outcome) }()
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schedula"

// Operation names used as the "operation" label.
const (
	OpLogin   = "login"
	OpRefresh = "refresh"
	OpLogout  = "logout"
	OpReissue = "reissue"
	OpRevoke  = "revoke"
	OpSweep   = "sweep"
)

// Outcome labels.
const (
	OutcomeSuccess            = "success"
	OutcomeRateLimited        = "rate_limited"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeInvalidToken       = "invalid_token"
	OutcomeUserNotFound       = "user_not_found"
	OutcomeError              = "error"
)

// NewRegistry returns a dedicated registry carrying the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Handler exposes registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// AuthMetrics groups the auth core's collectors.
type AuthMetrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	containment prometheus.Counter
	swept       prometheus.Counter
}

// NewAuthMetrics creates the collectors and registers them on registerer.
func NewAuthMetrics(registerer prometheus.Registerer) *AuthMetrics {
	authMetrics := &AuthMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "operations_total",
			Help:      "Auth operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "operation_duration_seconds",
			Help:      "Auth operation latency. Login is dominated by bcrypt.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
		containment: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "fingerprint_mismatch_total",
			Help:      "Refresh attempts from a foreign device that triggered mass revocation.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "refresh_tokens_swept_total",
			Help:      "Revoked or expired refresh tokens deleted by the cleanup sweep.",
		}),
	}

	registerer.MustRegister(
		authMetrics.operations,
		authMetrics.duration,
		authMetrics.containment,
		authMetrics.swept,
	)
	return authMetrics
}

// Timer measures one operation.
type Timer struct {
	metrics   *AuthMetrics
	operation string
	started   time.Time
}

// Start begins timing operation.
func (m *AuthMetrics) Start(operation string) *Timer {
	return &Timer{metrics: m, operation: operation, started: time.Now()}
}

// Stop records the latency and the outcome. Safe on a nil receiver's timer.
func (timer *Timer) Stop(outcome string) {
	if timer == nil || timer.metrics == nil {
		return
	}
	timer.metrics.operations.WithLabelValues(timer.operation, outcome).Inc()
	timer.metrics.duration.WithLabelValues(timer.operation).Observe(time.Since(timer.started).Seconds())
}

// FingerprintMismatch counts one containment event.
func (m *AuthMetrics) FingerprintMismatch() {
	if m == nil {
		return
	}
	m.containment.Inc()
}

// Swept counts rows removed by the cleanup sweep.
func (m *AuthMetrics) Swept(rows int64) {
	if m == nil || rows <= 0 {
		return
	}
	m.swept.Add(float64(rows))
}
