// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xmlrpc

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DecodeRequest parses a methodCall body into its method name and decoded
// parameters. Any parse failure is classified as ErrMalformedRequest.
func DecodeRequest(data []byte) (string, []any, error) {
	var call methodCall
	if err := xml.Unmarshal(data, &call); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	method := strings.TrimSpace(call.MethodName)
	if method == "" {
		return "", nil, fmt.Errorf("%w: missing methodName", ErrMalformedRequest)
	}
	params := make([]any, 0, len(call.Params))
	for i := range call.Params {
		v, err := call.Params[i].Value.decode()
		if err != nil {
			return "", nil, fmt.Errorf("%w: param %d: %v", ErrMalformedRequest, i, err)
		}
		params = append(params, v)
	}
	return method, params, nil
}

// DecodeResponse parses a methodResponse body. A fault response is returned
// as a *Fault error; a response without parameters yields nil.
func DecodeResponse(data []byte) (any, error) {
	var resp methodResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("xmlrpc: decode response: %w", err)
	}
	if resp.Fault != nil {
		fv, err := resp.Fault.Value.decode()
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: decode fault: %w", err)
		}
		members, _ := fv.(map[string]any)
		return nil, &Fault{
			Code:    asInt(members["faultCode"]),
			Message: asString(members["faultString"]),
		}
	}
	if len(resp.Params) == 0 {
		return nil, nil
	}
	return resp.Params[0].Value.decode()
}

func (v *value) decode() (any, error) {
	switch {
	case v.Int != nil:
		return parseInt(*v.Int)
	case v.I4 != nil:
		return parseInt(*v.I4)
	case v.Boolean != nil:
		switch strings.TrimSpace(*v.Boolean) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		default:
			return nil, fmt.Errorf("invalid boolean %q", *v.Boolean)
		}
	case v.Str != nil:
		return *v.Str, nil
	case v.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double %q", *v.Double)
		}
		return f, nil
	case v.DateTime != nil:
		return parseDateTime(*v.DateTime)
	case v.Base64 != nil:
		// Some encoders wrap base64 payloads in whitespace.
		raw := strings.Join(strings.Fields(*v.Base64), "")
		b, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %v", err)
		}
		return b, nil
	case v.Struct != nil:
		out := make(map[string]any, len(v.Struct.Members))
		for i := range v.Struct.Members {
			m := &v.Struct.Members[i]
			dv, err := m.Value.decode()
			if err != nil {
				return nil, err
			}
			out[strings.TrimSpace(m.Name)] = dv
		}
		return out, nil
	case v.Array != nil:
		out := make([]any, 0, len(v.Array.Data.Values))
		for i := range v.Array.Data.Values {
			dv, err := v.Array.Data.Values[i].decode()
			if err != nil {
				return nil, err
			}
			out = append(out, dv)
		}
		return out, nil
	default:
		// A value without a type element is a string.
		return v.Raw, nil
	}
}

func parseInt(s string) (any, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid int %q", s)
	}
	return n, nil
}

func parseDateTime(s string) (any, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{iso8601Layout, iso8601ExtLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("invalid dateTime %q", s)
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	default:
		return 0
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
