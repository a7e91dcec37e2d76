// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ccuCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hm2g_ccu_calls_total",
			Help: "Total number of outbound XML-RPC calls to CCU interfaces",
		},
		[]string{"interface", "method", "outcome"}, // outcome=success|fault|transport
	)

	ccuCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hm2g_ccu_call_duration_seconds",
			Help:    "Duration of outbound XML-RPC calls per attempt",
			Buckets: prometheus.ExponentialBuckets(0.05, 2.0, 8),
		},
		[]string{"interface", "method"},
	)
)

// ObserveCCUCall records one outbound call attempt with its duration.
func ObserveCCUCall(iface, method, outcome string, seconds float64) {
	ccuCallsTotal.WithLabelValues(iface, method, outcome).Inc()
	ccuCallDuration.WithLabelValues(iface, method).Observe(seconds)
}
