// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing for the hm2g daemon.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"
	HTTPURLKey        = "http.url"

	// RPC dispatch attributes (inbound CCU callbacks)
	RPCMethodKey    = "rpc.method"
	RPCInterfaceKey = "rpc.interface_id"
	RPCSessionKey   = "rpc.session_id"

	// Outbound CCU call attributes
	CCUMethodKey    = "ccu.method"
	CCUInterfaceKey = "ccu.interface_id"
	CCUEndpointKey  = "ccu.endpoint"

	// Circuit breaker attributes
	BreakerStateKey = "breaker.state"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route, url string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.String(HTTPURLKey, url),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// DispatchAttributes creates span attributes for an inbound RPC dispatch.
func DispatchAttributes(method, interfaceID, sessionID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(RPCMethodKey, method),
	}
	if interfaceID != "" {
		attrs = append(attrs, attribute.String(RPCInterfaceKey, interfaceID))
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(RPCSessionKey, sessionID))
	}
	return attrs
}

// CCUCallAttributes creates span attributes for an outbound CCU call.
func CCUCallAttributes(method, interfaceID, endpoint string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CCUMethodKey, method),
		attribute.String(CCUInterfaceKey, interfaceID),
		attribute.String(CCUEndpointKey, endpoint),
	}
}

// BreakerAttributes creates circuit-breaker span attributes.
func BreakerAttributes(interfaceID, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(CCUInterfaceKey, interfaceID),
		attribute.String(BreakerStateKey, state),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
