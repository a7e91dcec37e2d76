// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	datapointEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hm2g_datapoint_events_total",
			Help: "Datapoint event callbacks routed into a central unit",
		},
		[]string{"interface"},
	)

	ccuReportedErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hm2g_ccu_reported_errors_total",
			Help: "Errors the CCU pushed through the error callback",
		},
		[]string{"interface"},
	)

	devicesKnown = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hm2g_devices_known",
			Help: "Device descriptions currently stored per interface",
		},
		[]string{"interface"},
	)
)

// IncDatapointEvent counts one routed event callback.
func IncDatapointEvent(iface string) {
	datapointEventsTotal.WithLabelValues(iface).Inc()
}

// IncCCUReportedError counts one CCU-reported system error.
func IncCCUReportedError(iface string) {
	ccuReportedErrorsTotal.WithLabelValues(iface).Inc()
}

// SetDevicesKnown records the stored device count for an interface.
func SetDevicesKnown(iface string, n int) {
	devicesKnown.WithLabelValues(iface).Set(float64(n))
}
