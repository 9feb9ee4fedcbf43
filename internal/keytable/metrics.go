/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package keytable

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector collects statistics about table usage.
type MetricsCollector interface {
	SetKeys(int)
	AddEvictions(int)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	Namespace   string
	ConstLabels prometheus.Labels
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// PrometheusMetrics exports the number of tracked keys and evictions per table.
// Each table reports through its own collector returned by ForTable.
type PrometheusMetrics struct {
	KeysAmount     *prometheus.GaugeVec
	EvictionsTotal *prometheus.CounterVec
	registerer     prometheus.Registerer
}

// NewPrometheusMetrics creates a new PrometheusMetrics.
func NewPrometheusMetrics(opts PrometheusMetricsOpts) *PrometheusMetrics {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetrics{
		KeysAmount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "ratelimit_keys_amount",
			Help:        "Number of keys tracked by an in-process rate limit table.",
			ConstLabels: opts.ConstLabels,
		}, []string{"table"}),
		EvictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "ratelimit_keys_evictions_total",
			Help:        "Number of keys evicted from an in-process rate limit table because it was full.",
			ConstLabels: opts.ConstLabels,
		}, []string{"table"}),
		registerer: reg,
	}
}

// MustRegisterMetrics implements service.MetricsRegisterer.
func (pm *PrometheusMetrics) MustRegisterMetrics() {
	pm.registerer.MustRegister(pm.KeysAmount, pm.EvictionsTotal)
}

// UnregisterMetrics implements service.MetricsRegisterer.
func (pm *PrometheusMetrics) UnregisterMetrics() {
	pm.registerer.Unregister(pm.KeysAmount)
	pm.registerer.Unregister(pm.EvictionsTotal)
}

// ForTable returns the collector for the table with the given name.
// Tables must have distinct names, otherwise they overwrite each other's keys amount.
func (pm *PrometheusMetrics) ForTable(name string) MetricsCollector {
	return &tableMetrics{
		keys:      pm.KeysAmount.WithLabelValues(name),
		evictions: pm.EvictionsTotal.WithLabelValues(name),
	}
}

type tableMetrics struct {
	keys      prometheus.Gauge
	evictions prometheus.Counter
}

func (tm *tableMetrics) SetKeys(n int) {
	tm.keys.Set(float64(n))
}

func (tm *tableMetrics) AddEvictions(n int) {
	tm.evictions.Add(float64(n))
}

type disabledMetrics struct{}

func (disabledMetrics) SetKeys(int)      {}
func (disabledMetrics) AddEvictions(int) {}
