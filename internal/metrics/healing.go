// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	healRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hm2g_heal_refresh_total",
		Help: "Recovery data refreshes by interface and outcome",
	}, []string{"interface", "outcome"}) // outcome=success|failure

	healRefreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hm2g_heal_refresh_duration_seconds",
		Help:    "Duration of recovery data refreshes",
		Buckets: prometheus.DefBuckets,
	}, []string{"interface"})

	configReloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hm2g_config_reload_total",
		Help: "Configuration reload attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure
)

// ObserveHealRefresh records one recovery refresh with its duration.
func ObserveHealRefresh(iface, outcome string, seconds float64) {
	healRefreshTotal.WithLabelValues(iface, outcome).Inc()
	healRefreshDuration.WithLabelValues(iface).Observe(seconds)
}

// IncConfigReload counts a configuration reload attempt.
func IncConfigReload(outcome string) {
	configReloadTotal.WithLabelValues(outcome).Inc()
}
