// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package rpcserver hosts the inbound XML-RPC endpoint the CCU calls
// back into. The dispatcher maps method names to registered handlers;
// the server runs the HTTP listener, routes decoded calls to attached
// sessions and tracks fire-and-forget push work.
package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/metrics"
	"github.com/ManuGH/hm2g/internal/telemetry"
	"github.com/ManuGH/hm2g/internal/xmlrpc"
)

// HandlerFunc is a registered RPC method body. Returning nil as the
// result encodes as boolean true; the CCU treats an absent return
// value as failure.
type HandlerFunc func(ctx context.Context, params []any) (any, error)

// Method declares one exposed RPC method. Help and Signature feed the
// system.* introspection calls and may be empty.
type Method struct {
	Name      string
	Help      string
	Signature []string
	Handler   HandlerFunc
}

// Dispatcher holds the method registry and turns request bodies into
// response bodies. Register every method during startup; the registry
// is not meant to change while requests are in flight.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string]Method
	logger  zerolog.Logger
}

// NewDispatcher returns an empty registry.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		methods: make(map[string]Method),
		logger:  log.WithComponent("rpc"),
	}
}

// Register adds a method to the registry. Registering an empty name, a
// nil handler, or a name that is already taken fails.
func (d *Dispatcher) Register(m Method) error {
	if m.Name == "" {
		return errors.New("rpc method name is empty")
	}
	if m.Handler == nil {
		return fmt.Errorf("rpc method %s has no handler", m.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.methods[m.Name]; exists {
		return fmt.Errorf("rpc method %s already registered", m.Name)
	}
	d.methods[m.Name] = m
	return nil
}

// MustRegister registers a method and panics on failure. Startup wiring
// only.
func (d *Dispatcher) MustRegister(m Method) {
	if err := d.Register(m); err != nil {
		panic(err)
	}
}

// Methods returns the registered method names in sorted order.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch decodes an XML-RPC request body, runs the method and encodes
// the outcome. Handler failures come back as encoded faults with a nil
// error; a non-nil error means the body itself was unusable and wraps
// xmlrpc.ErrMalformedRequest so the transport can answer 400.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) ([]byte, error) {
	started := time.Now()
	method, params, err := xmlrpc.DecodeRequest(body)
	if err != nil {
		metrics.ObserveRPCRequest(method, "bad_request", time.Since(started).Seconds())
		d.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "rpc.malformed_request").
			Int("body_bytes", len(body)).
			Msg("rejecting unparseable request")
		return nil, err
	}

	// Enrich the otelhttp server span, if one is active.
	trace.SpanFromContext(ctx).SetAttributes(
		telemetry.DispatchAttributes(method, pushInterfaceID(method, params), "")...)

	result, callErr := d.call(ctx, method, params)
	if callErr != nil {
		var fault *xmlrpc.Fault
		if !errors.As(callErr, &fault) {
			fault = xmlrpc.InternalError(callErr)
		}
		metrics.ObserveRPCRequest(method, "fault", time.Since(started).Seconds())
		return xmlrpc.EncodeFault(fault.Code, fault.Message)
	}

	resp, err := xmlrpc.EncodeResponse(result)
	if err != nil {
		d.logger.Error().
			Err(err).
			Str(log.FieldEvent, "rpc.encode_failed").
			Str(log.FieldMethod, method).
			Msg("handler result is not encodable")
		metrics.ObserveRPCRequest(method, "fault", time.Since(started).Seconds())
		return xmlrpc.EncodeFault(xmlrpc.CodeInternalError, fmt.Sprintf("Internal error: %v", err))
	}
	metrics.ObserveRPCRequest(method, "ok", time.Since(started).Seconds())
	return resp, nil
}

// pushInterfaceID extracts the interface id the fixed CCU push methods
// carry as their first parameter; empty for everything else.
func pushInterfaceID(method string, params []any) string {
	switch method {
	case "event", "listDevices", "newDevices", "deleteDevices",
		"readdedDevice", "replaceDevice", "updateDevice", "error":
		if len(params) > 0 {
			if id, ok := params[0].(string); ok {
				return id
			}
		}
	}
	return ""
}

// call looks up and runs a method. Errors are always fault-classified:
// unknown name yields the method-not-found code, anything a handler
// returns or panics with yields the internal-error code unless it
// already is a fault. A nil result is converted to boolean true.
func (d *Dispatcher) call(ctx context.Context, method string, params []any) (any, error) {
	d.mu.RLock()
	m, ok := d.methods[method]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warn().
			Str(log.FieldEvent, "rpc.method_not_found").
			Str(log.FieldMethod, method).
			Msg("unknown method")
		return nil, xmlrpc.MethodNotFound(method)
	}

	result, err := d.invoke(ctx, m, params)
	if err != nil {
		var fault *xmlrpc.Fault
		if errors.As(err, &fault) {
			return nil, fault
		}
		d.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "rpc.handler_error").
			Str(log.FieldMethod, method).
			Msg("handler failed")
		return nil, xmlrpc.InternalError(err)
	}
	if result == nil {
		result = true
	}
	return result, nil
}

func (d *Dispatcher) invoke(ctx context.Context, m Method, params []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str(log.FieldEvent, "rpc.handler_panic").
				Str(log.FieldMethod, m.Name).
				Interface("panic", r).
				Msg("handler panicked")
			result = nil
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return m.Handler(ctx, params)
}

// RegisterIntrospection adds the standard system.listMethods,
// system.methodHelp and system.methodSignature entries derived from the
// registry.
func (d *Dispatcher) RegisterIntrospection() {
	d.MustRegister(Method{
		Name:      "system.listMethods",
		Help:      "Returns the names of all registered methods.",
		Signature: []string{"array"},
		Handler: func(context.Context, []any) (any, error) {
			names := d.Methods()
			out := make([]any, len(names))
			for i, n := range names {
				out[i] = n
			}
			return out, nil
		},
	})
	d.MustRegister(Method{
		Name:      "system.methodHelp",
		Help:      "Returns the documentation string of the named method.",
		Signature: []string{"string", "string"},
		Handler: func(_ context.Context, params []any) (any, error) {
			m, err := d.lookupParam(params)
			if err != nil {
				return nil, err
			}
			return m.Help, nil
		},
	})
	d.MustRegister(Method{
		Name:      "system.methodSignature",
		Help:      "Returns the signature of the named method.",
		Signature: []string{"array", "string"},
		Handler: func(_ context.Context, params []any) (any, error) {
			m, err := d.lookupParam(params)
			if err != nil {
				return nil, err
			}
			if len(m.Signature) == 0 {
				return "signatures not supported", nil
			}
			out := make([]any, len(m.Signature))
			for i, s := range m.Signature {
				out[i] = s
			}
			return []any{out}, nil
		},
	})
}

func (d *Dispatcher) lookupParam(params []any) (Method, error) {
	if len(params) != 1 {
		return Method{}, fmt.Errorf("expected 1 parameter, got %d", len(params))
	}
	name, ok := params[0].(string)
	if !ok {
		return Method{}, fmt.Errorf("method name must be a string, got %T", params[0])
	}
	d.mu.RLock()
	m, exists := d.methods[name]
	d.mu.RUnlock()
	if !exists {
		return Method{}, xmlrpc.MethodNotFound(name)
	}
	return m, nil
}

// RegisterMulticall adds system.multicall. Each boxed call runs through
// the normal dispatch logic; a successful result is wrapped in a
// one-element array, a failure becomes a fault struct in its slot, and
// no slot's failure disturbs its siblings.
func (d *Dispatcher) RegisterMulticall() {
	d.MustRegister(Method{
		Name:      "system.multicall",
		Help:      "Executes boxed calls and returns per-call results or fault structs.",
		Signature: []string{"array", "array"},
		Handler: func(ctx context.Context, params []any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("expected 1 parameter, got %d", len(params))
			}
			calls, ok := params[0].([]any)
			if !ok {
				return nil, fmt.Errorf("calls must be an array, got %T", params[0])
			}
			results := make([]any, 0, len(calls))
			for _, boxed := range calls {
				results = append(results, d.multicallOne(ctx, boxed))
			}
			return results, nil
		},
	})
}

func (d *Dispatcher) multicallOne(ctx context.Context, boxed any) any {
	call, ok := boxed.(map[string]any)
	if !ok {
		return xmlrpc.FaultStruct(xmlrpc.InternalError(fmt.Errorf("multicall entry must be a struct, got %T", boxed)))
	}
	name, ok := call["methodName"].(string)
	if !ok {
		return xmlrpc.FaultStruct(xmlrpc.InternalError(errors.New("multicall entry is missing methodName")))
	}
	// Refused per slot rather than recursed: a boxed multicall would
	// otherwise nest until the body cap.
	if name == "system.multicall" {
		return xmlrpc.FaultStruct(xmlrpc.InternalError(errors.New("nested multicall is not allowed")))
	}
	var callParams []any
	if raw, present := call["params"]; present {
		callParams, ok = raw.([]any)
		if !ok {
			return xmlrpc.FaultStruct(xmlrpc.InternalError(fmt.Errorf("multicall params for %s must be an array", name)))
		}
	}
	result, err := d.call(ctx, name, callParams)
	if err != nil {
		var fault *xmlrpc.Fault
		if !errors.As(err, &fault) {
			fault = xmlrpc.InternalError(err)
		}
		return xmlrpc.FaultStruct(fault)
	}
	return []any{result}
}
