// SPDX-License-Identifier: MIT
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hm2g_rpc_requests_total",
		Help: "Inbound XML-RPC requests by method and outcome",
	}, []string{"method", "outcome"}) // outcome=ok|fault|bad_request

	rpcRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hm2g_rpc_request_duration_seconds",
		Help:    "Duration of inbound XML-RPC request handling",
		Buckets: prometheus.ExponentialBuckets(0.001, 2.0, 12),
	}, []string{"method"})

	rpcBackgroundTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hm2g_rpc_background_tasks",
		Help: "Number of in-flight fire-and-forget push tasks",
	})

	rpcSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hm2g_rpc_sessions",
		Help: "Number of registered callback sessions",
	})

	rpcServerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hm2g_rpc_server_errors_total",
		Help: "Callback server errors by kind",
	}, []string{"kind"}) // kind=decode|handler|write
)

// ObserveRPCRequest records one inbound XML-RPC request with its duration.
func ObserveRPCRequest(method, outcome string, seconds float64) {
	if method == "" {
		method = "unknown"
	}
	rpcRequestsTotal.WithLabelValues(method, outcome).Inc()
	rpcRequestDuration.WithLabelValues(method).Observe(seconds)
}

// SetBackgroundTasks records the current number of in-flight push tasks.
func SetBackgroundTasks(n int) { rpcBackgroundTasks.Set(float64(n)) }

// SetRPCSessions records the current number of registered sessions.
func SetRPCSessions(n int) { rpcSessions.Set(float64(n)) }

// IncRPCServerError counts a server-side callback error.
func IncRPCServerError(kind string) { rpcServerErrors.WithLabelValues(kind).Inc() }
