// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	busPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hm2g_bus_events_published_total",
		Help: "Total number of events published on the in-memory bus by type",
	}, []string{"type"})

	busHandlerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hm2g_bus_handler_failures_total",
		Help: "Total number of event handler failures by type and reason",
	}, []string{"type", "reason"}) // reason=error|panic

	busSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hm2g_bus_subscriptions",
		Help: "Number of active subscriptions by event type",
	}, []string{"type"})
)

// IncBusPublished records one delivered publication for the given event type.
func IncBusPublished(eventType string) {
	if eventType == "" {
		eventType = "unknown"
	}
	busPublishedTotal.WithLabelValues(eventType).Inc()
}

// IncBusHandlerFailure records a handler error or panic for the given event type.
func IncBusHandlerFailure(eventType, reason string) {
	if eventType == "" {
		eventType = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	busHandlerFailures.WithLabelValues(eventType, reason).Inc()
}

// SetBusSubscriptions records the current subscription count for an event type.
func SetBusSubscriptions(eventType string, n int) {
	busSubscriptions.WithLabelValues(eventType).Set(float64(n))
}
