// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	coalesceRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hm2g_coalesce_requests_total",
		Help: "Coalescer requests by outcome",
	}, []string{"outcome"}) // outcome=leader|joined|cleared

	coalesceInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hm2g_coalesce_inflight",
		Help: "Number of distinct keys currently executing",
	})
)

// IncCoalesceRequest counts a coalescer request by outcome.
func IncCoalesceRequest(outcome string) {
	coalesceRequestsTotal.WithLabelValues(outcome).Inc()
}

// SetCoalesceInflight records the number of keys currently in flight.
func SetCoalesceInflight(n int) { coalesceInflight.Set(float64(n)) }
