// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hm2g_circuit_breaker_state",
		Help: "Circuit breaker state by interface (closed=1, half-open=1, open=1; others 0)",
	}, []string{"interface", "state"})

	circuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hm2g_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips (transitions to open state)",
	}, []string{"interface", "reason"})

	circuitBreakerRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hm2g_circuit_breaker_rejects_total",
		Help: "Total number of calls rejected while the circuit was open",
	}, []string{"interface"})
)

var circuitStates = []string{"closed", "half-open", "open"}

// SetCircuitBreakerState records the active circuit breaker state for an interface.
func SetCircuitBreakerState(iface, state string) {
	for _, s := range circuitStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		circuitBreakerState.WithLabelValues(iface, s).Set(value)
	}
}

// RecordCircuitBreakerTrip increments the trip counter when circuit breaker opens.
func RecordCircuitBreakerTrip(iface, reason string) {
	circuitBreakerTrips.WithLabelValues(iface, reason).Inc()
}

// RecordCircuitBreakerReject counts a call refused in the open state.
func RecordCircuitBreakerReject(iface string) {
	circuitBreakerRejects.WithLabelValues(iface).Inc()
}
