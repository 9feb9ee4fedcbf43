/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Decision is an outcome of IsRateLimited.
type Decision string

// Decisions.
const (
	DecisionAllowed  Decision = "allowed"
	DecisionLimited  Decision = "limited"
	DecisionFailOpen Decision = "fail_open"
)

// MetricsCollector collects limiter statistics. The rule is the limiter name.
type MetricsCollector interface {
	IncDecisions(rule string, decision Decision)
	IncStorageErrors(rule, op string)
	ObserveStorageDuration(op string, d time.Duration)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	Namespace   string
	ConstLabels prometheus.Labels
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// PrometheusMetrics is a MetricsCollector backed by Prometheus. One instance is shared by all limiters.
type PrometheusMetrics struct {
	DecisionsTotal   *prometheus.CounterVec
	StorageErrors    *prometheus.CounterVec
	StorageDurations *prometheus.HistogramVec
	registerer       prometheus.Registerer
}

// NewPrometheusMetrics creates a new PrometheusMetrics.
func NewPrometheusMetrics(opts PrometheusMetricsOpts) *PrometheusMetrics {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "ratelimit_decisions_total",
			Help:        "Number of rate limit checks by outcome.",
			ConstLabels: opts.ConstLabels,
		}, []string{"rule", "decision"}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "ratelimit_storage_errors_total",
			Help:        "Number of failed or timed out rate limit store operations.",
			ConstLabels: opts.ConstLabels,
		}, []string{"rule", "op"}),
		StorageDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   opts.Namespace,
			Name:        "ratelimit_storage_duration_seconds",
			Help:        "Latency of rate limit store operations.",
			Buckets:     []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			ConstLabels: opts.ConstLabels,
		}, []string{"op"}),
		registerer: reg,
	}
}

// MustRegisterMetrics implements service.MetricsRegisterer.
func (pm *PrometheusMetrics) MustRegisterMetrics() {
	pm.registerer.MustRegister(pm.DecisionsTotal, pm.StorageErrors, pm.StorageDurations)
}

// UnregisterMetrics implements service.MetricsRegisterer.
func (pm *PrometheusMetrics) UnregisterMetrics() {
	pm.registerer.Unregister(pm.DecisionsTotal)
	pm.registerer.Unregister(pm.StorageErrors)
	pm.registerer.Unregister(pm.StorageDurations)
}

// IncDecisions implements MetricsCollector.
func (pm *PrometheusMetrics) IncDecisions(rule string, decision Decision) {
	pm.DecisionsTotal.WithLabelValues(rule, string(decision)).Inc()
}

// IncStorageErrors implements MetricsCollector.
func (pm *PrometheusMetrics) IncStorageErrors(rule, op string) {
	pm.StorageErrors.WithLabelValues(rule, op).Inc()
}

// ObserveStorageDuration implements MetricsCollector.
func (pm *PrometheusMetrics) ObserveStorageDuration(op string, d time.Duration) {
	pm.StorageDurations.WithLabelValues(op).Observe(d.Seconds())
}

type disabledMetrics struct{}

func (disabledMetrics) IncDecisions(string, Decision)                {}
func (disabledMetrics) IncStorageErrors(string, string)              {}
func (disabledMetrics) ObserveStorageDuration(string, time.Duration) {}
