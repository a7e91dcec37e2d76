// SPDX-License-Identifier: MIT
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	err := gauge.Write(metric)
	require.NoError(t, err)
	return metric.GetGauge().GetValue()
}

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	err := counter.Write(metric)
	require.NoError(t, err)
	return metric.GetCounter().GetValue()
}

func getGaugeVecValue(t *testing.T, gaugeVec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	return getGaugeValue(t, gaugeVec.WithLabelValues(labels...))
}

func getCounterVecValue(t *testing.T, counterVec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	return getCounterValue(t, counterVec.WithLabelValues(labels...))
}

func getHistogramVecCount(t *testing.T, histVec *prometheus.HistogramVec, labels ...string) uint64 {
	t.Helper()
	obs, err := histVec.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
	metric := &dto.Metric{}
	err = obs.(prometheus.Histogram).Write(metric)
	require.NoError(t, err)
	return metric.GetHistogram().GetSampleCount()
}

func TestSetCircuitBreakerState(t *testing.T) {
	tests := []struct {
		name  string
		state string
	}{
		{"closed state", "closed"},
		{"half-open state", "half-open"},
		{"open state", "open"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetCircuitBreakerState("BidCos-RF", tt.state)
			for _, s := range circuitStates {
				want := 0.0
				if s == tt.state {
					want = 1.0
				}
				got := getGaugeVecValue(t, circuitBreakerState, "BidCos-RF", s)
				assert.Equal(t, want, got, "state gauge for %q", s)
			}
		})
	}
}

func TestRecordCircuitBreakerTrip(t *testing.T) {
	initial := getCounterVecValue(t, circuitBreakerTrips, "HmIP-RF", "threshold_exceeded")
	RecordCircuitBreakerTrip("HmIP-RF", "threshold_exceeded")
	RecordCircuitBreakerTrip("HmIP-RF", "threshold_exceeded")
	final := getCounterVecValue(t, circuitBreakerTrips, "HmIP-RF", "threshold_exceeded")
	assert.Equal(t, initial+2, final)
}

func TestRecordCircuitBreakerReject(t *testing.T) {
	initial := getCounterVecValue(t, circuitBreakerRejects, "BidCos-Wired")
	RecordCircuitBreakerReject("BidCos-Wired")
	assert.Equal(t, initial+1, getCounterVecValue(t, circuitBreakerRejects, "BidCos-Wired"))
}

func TestIncBusPublishedDefaultsUnknown(t *testing.T) {
	initial := getCounterVecValue(t, busPublishedTotal, "unknown")
	IncBusPublished("")
	assert.Equal(t, initial+1, getCounterVecValue(t, busPublishedTotal, "unknown"))
}

func TestIncBusHandlerFailure(t *testing.T) {
	initial := getCounterVecValue(t, busHandlerFailures, "device.event", "panic")
	IncBusHandlerFailure("device.event", "panic")
	assert.Equal(t, initial+1, getCounterVecValue(t, busHandlerFailures, "device.event", "panic"))
}

func TestSetBusSubscriptions(t *testing.T) {
	SetBusSubscriptions("breaker.state", 4)
	assert.Equal(t, 4.0, getGaugeVecValue(t, busSubscriptions, "breaker.state"))
	SetBusSubscriptions("breaker.state", 0)
	assert.Equal(t, 0.0, getGaugeVecValue(t, busSubscriptions, "breaker.state"))
}

func TestObserveRPCRequest(t *testing.T) {
	initialCount := getCounterVecValue(t, rpcRequestsTotal, "event", "ok")
	initialSamples := getHistogramVecCount(t, rpcRequestDuration, "event")

	ObserveRPCRequest("event", "ok", 0.012)

	assert.Equal(t, initialCount+1, getCounterVecValue(t, rpcRequestsTotal, "event", "ok"))
	assert.Equal(t, initialSamples+1, getHistogramVecCount(t, rpcRequestDuration, "event"))
}

func TestObserveRPCRequestEmptyMethod(t *testing.T) {
	initial := getCounterVecValue(t, rpcRequestsTotal, "unknown", "bad_request")
	ObserveRPCRequest("", "bad_request", 0.001)
	assert.Equal(t, initial+1, getCounterVecValue(t, rpcRequestsTotal, "unknown", "bad_request"))
}

func TestBackgroundTaskAndSessionGauges(t *testing.T) {
	SetBackgroundTasks(7)
	assert.Equal(t, 7.0, getGaugeValue(t, rpcBackgroundTasks))
	SetBackgroundTasks(0)
	assert.Equal(t, 0.0, getGaugeValue(t, rpcBackgroundTasks))

	SetRPCSessions(3)
	assert.Equal(t, 3.0, getGaugeValue(t, rpcSessions))
}

func TestIncCoalesceRequest(t *testing.T) {
	tests := []struct {
		name    string
		outcome string
	}{
		{"leader outcome", "leader"},
		{"joined outcome", "joined"},
		{"cleared outcome", "cleared"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial := getCounterVecValue(t, coalesceRequestsTotal, tt.outcome)
			IncCoalesceRequest(tt.outcome)
			assert.Equal(t, initial+1, getCounterVecValue(t, coalesceRequestsTotal, tt.outcome))
		})
	}
}

func TestObserveCCUCall(t *testing.T) {
	initial := getCounterVecValue(t, ccuCallsTotal, "BidCos-RF", "getValue", "success")
	ObserveCCUCall("BidCos-RF", "getValue", "success", 0.05)
	assert.Equal(t, initial+1, getCounterVecValue(t, ccuCallsTotal, "BidCos-RF", "getValue", "success"))
	assert.GreaterOrEqual(t, getHistogramVecCount(t, ccuCallDuration, "BidCos-RF", "getValue"), uint64(1))
}

func TestObserveHealRefresh(t *testing.T) {
	initial := getCounterVecValue(t, healRefreshTotal, "HmIP-RF", "success")
	ObserveHealRefresh("HmIP-RF", "success", 1.2)
	assert.Equal(t, initial+1, getCounterVecValue(t, healRefreshTotal, "HmIP-RF", "success"))
}

func TestIncConfigReload(t *testing.T) {
	initial := getCounterVecValue(t, configReloadTotal, "failure")
	IncConfigReload("failure")
	assert.Equal(t, initial+1, getCounterVecValue(t, configReloadTotal, "failure"))
}
