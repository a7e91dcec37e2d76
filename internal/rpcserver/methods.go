// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rpcserver

import (
	"context"
	"fmt"

	"github.com/ManuGH/hm2g/internal/log"
)

// registerCCUMethods wires the fixed Homematic callback surface into
// the dispatcher. Calls resolve their interface id against the attached
// sessions; a call for an interface nobody owns is dropped silently
// because the CCU keeps sending callbacks for a while after a session
// detaches. High-volume pushes are acknowledged immediately and
// processed on background tasks since the CCU enforces a short RPC
// timeout.
func (s *Server) registerCCUMethods() {
	s.dispatcher.MustRegister(Method{
		Name: "event",
		Help: "Delivers a single value change for a channel parameter.",
		Handler: func(_ context.Context, params []any) (any, error) {
			interfaceID, err := paramString(params, 0)
			if err != nil {
				return nil, err
			}
			channelAddress, err := paramString(params, 1)
			if err != nil {
				return nil, err
			}
			parameter, err := paramString(params, 2)
			if err != nil {
				return nil, err
			}
			if len(params) != 4 {
				return nil, fmt.Errorf("event expects 4 parameters, got %d", len(params))
			}
			value := params[3]

			sess := s.sessionFor(interfaceID)
			if sess == nil {
				s.dropPush("event", interfaceID)
				return nil, nil
			}
			s.spawn("event", interfaceID, func(ctx context.Context) error {
				return sess.DataPointEvent(ctx, interfaceID, channelAddress, parameter, value)
			})
			return nil, nil
		},
	})

	s.dispatcher.MustRegister(Method{
		Name:      "newDevices",
		Help:      "Announces freshly paired devices with their descriptions.",
		Signature: []string{"boolean", "string", "array"},
		Handler: func(_ context.Context, params []any) (any, error) {
			interfaceID, err := paramString(params, 0)
			if err != nil {
				return nil, err
			}
			descriptions, err := paramStructs(params, 1)
			if err != nil {
				return nil, err
			}
			sess := s.sessionFor(interfaceID)
			if sess == nil {
				s.dropPush("newDevices", interfaceID)
				return nil, nil
			}
			s.logger.Info().
				Str(log.FieldEvent, "rpc.new_devices").
				Str(log.FieldInterfaceID, interfaceID).
				Int("devices", len(descriptions)).
				Msg("device descriptions pushed")
			s.spawn("newDevices", interfaceID, func(ctx context.Context) error {
				return sess.NewDevices(ctx, interfaceID, descriptions)
			})
			return nil, nil
		},
	})

	s.dispatcher.MustRegister(Method{
		Name:      "deleteDevices",
		Help:      "Announces devices the CCU removed.",
		Signature: []string{"boolean", "string", "array"},
		Handler: func(_ context.Context, params []any) (any, error) {
			interfaceID, err := paramString(params, 0)
			if err != nil {
				return nil, err
			}
			addresses, err := paramStrings(params, 1)
			if err != nil {
				return nil, err
			}
			sess := s.sessionFor(interfaceID)
			if sess == nil {
				s.dropPush("deleteDevices", interfaceID)
				return nil, nil
			}
			s.logger.Info().
				Str(log.FieldEvent, "rpc.delete_devices").
				Str(log.FieldInterfaceID, interfaceID).
				Int("devices", len(addresses)).
				Msg("device removal pushed")
			s.spawn("deleteDevices", interfaceID, func(ctx context.Context) error {
				return sess.DeleteDevices(ctx, interfaceID, addresses)
			})
			return nil, nil
		},
	})

	s.dispatcher.MustRegister(Method{
		Name:      "listDevices",
		Help:      "Returns the device descriptions already known for the interface.",
		Signature: []string{"array", "string"},
		Handler: func(ctx context.Context, params []any) (any, error) {
			interfaceID, err := paramString(params, 0)
			if err != nil {
				return nil, err
			}
			sess := s.sessionFor(interfaceID)
			if sess == nil {
				s.dropPush("listDevices", interfaceID)
				return []any{}, nil
			}
			devices, err := sess.ListDevices(ctx, interfaceID)
			if err != nil {
				return nil, err
			}
			out := make([]any, len(devices))
			for i, d := range devices {
				out[i] = map[string]any(d)
			}
			return out, nil
		},
	})

	s.dispatcher.MustRegister(Method{
		Name:      "readdedDevice",
		Help:      "Announces devices the CCU paired again without a prior delete.",
		Signature: []string{"boolean", "string", "array"},
		Handler: func(_ context.Context, params []any) (any, error) {
			interfaceID, err := paramString(params, 0)
			if err != nil {
				return nil, err
			}
			addresses, err := paramStrings(params, 1)
			if err != nil {
				return nil, err
			}
			sess := s.sessionFor(interfaceID)
			if sess == nil {
				s.dropPush("readdedDevice", interfaceID)
				return nil, nil
			}
			s.spawn("readdedDevice", interfaceID, func(ctx context.Context) error {
				return sess.ReaddedDevice(ctx, interfaceID, addresses)
			})
			return nil, nil
		},
	})

	s.dispatcher.MustRegister(Method{
		Name:      "replaceDevice",
		Help:      "Announces that one device address was swapped for another.",
		Signature: []string{"boolean", "string", "string", "string"},
		Handler: func(_ context.Context, params []any) (any, error) {
			interfaceID, err := paramString(params, 0)
			if err != nil {
				return nil, err
			}
			oldAddress, err := paramString(params, 1)
			if err != nil {
				return nil, err
			}
			newAddress, err := paramString(params, 2)
			if err != nil {
				return nil, err
			}
			sess := s.sessionFor(interfaceID)
			if sess == nil {
				s.dropPush("replaceDevice", interfaceID)
				return nil, nil
			}
			s.spawn("replaceDevice", interfaceID, func(ctx context.Context) error {
				return sess.ReplaceDevice(ctx, interfaceID, oldAddress, newAddress)
			})
			return nil, nil
		},
	})

	s.dispatcher.MustRegister(Method{
		Name:      "updateDevice",
		Help:      "Announces a firmware or link update hint for a device.",
		Signature: []string{"boolean", "string", "string", "int"},
		Handler: func(_ context.Context, params []any) (any, error) {
			interfaceID, err := paramString(params, 0)
			if err != nil {
				return nil, err
			}
			address, err := paramString(params, 1)
			if err != nil {
				return nil, err
			}
			hint, err := paramInt(params, 2)
			if err != nil {
				return nil, err
			}
			sess := s.sessionFor(interfaceID)
			if sess == nil {
				s.dropPush("updateDevice", interfaceID)
				return nil, nil
			}
			s.spawn("updateDevice", interfaceID, func(ctx context.Context) error {
				return sess.UpdateDevice(ctx, interfaceID, address, hint)
			})
			return nil, nil
		},
	})

	s.dispatcher.MustRegister(Method{
		Name:      "error",
		Help:      "Reports an error the CCU raised for an interface.",
		Signature: []string{"boolean", "string", "int", "string"},
		Handler: func(ctx context.Context, params []any) (any, error) {
			interfaceID, err := paramString(params, 0)
			if err != nil {
				return nil, err
			}
			level, err := paramInt(params, 1)
			if err != nil {
				return nil, err
			}
			message, err := paramString(params, 2)
			if err != nil {
				return nil, err
			}
			s.logger.Warn().
				Str(log.FieldEvent, "rpc.ccu_error").
				Str(log.FieldInterfaceID, interfaceID).
				Int("level", level).
				Str("message", message).
				Msg("error reported by peer")
			sess := s.sessionFor(interfaceID)
			if sess == nil {
				return nil, nil
			}
			return nil, sess.ErrorReported(ctx, interfaceID, level, message)
		},
	})
}

func (s *Server) dropPush(method, interfaceID string) {
	s.logger.Debug().
		Str(log.FieldEvent, "rpc.push_dropped").
		Str(log.FieldMethod, method).
		Str(log.FieldInterfaceID, interfaceID).
		Msg("no attached session owns this interface")
}

func paramString(params []any, i int) (string, error) {
	if i >= len(params) {
		return "", fmt.Errorf("missing parameter %d", i)
	}
	v, ok := params[i].(string)
	if !ok {
		return "", fmt.Errorf("parameter %d: expected string, got %T", i, params[i])
	}
	return v, nil
}

func paramInt(params []any, i int) (int, error) {
	if i >= len(params) {
		return 0, fmt.Errorf("missing parameter %d", i)
	}
	v, ok := params[i].(int)
	if !ok {
		return 0, fmt.Errorf("parameter %d: expected int, got %T", i, params[i])
	}
	return v, nil
}

func paramStrings(params []any, i int) ([]string, error) {
	if i >= len(params) {
		return nil, fmt.Errorf("missing parameter %d", i)
	}
	raw, ok := params[i].([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %d: expected array, got %T", i, params[i])
	}
	out := make([]string, len(raw))
	for j, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("parameter %d[%d]: expected string, got %T", i, j, item)
		}
		out[j] = s
	}
	return out, nil
}

func paramStructs(params []any, i int) ([]map[string]any, error) {
	if i >= len(params) {
		return nil, fmt.Errorf("missing parameter %d", i)
	}
	raw, ok := params[i].([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %d: expected array, got %T", i, params[i])
	}
	out := make([]map[string]any, len(raw))
	for j, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parameter %d[%d]: expected struct, got %T", i, j, item)
		}
		out[j] = m
	}
	return out, nil
}
