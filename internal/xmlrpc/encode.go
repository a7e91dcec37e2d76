// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package xmlrpc

import (
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

func strPtr(s string) *string { return &s }

// EncodeRequest marshals a methodCall with the given parameters.
func EncodeRequest(method string, params []any) ([]byte, error) {
	call := methodCall{MethodName: method}
	for i, p := range params {
		v, err := encodeValue(p)
		if err != nil {
			return nil, fmt.Errorf("xmlrpc: encode param %d of %s: %w", i, method, err)
		}
		call.Params = append(call.Params, param{Value: v})
	}
	data, err := xml.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("xmlrpc: encode request %s: %w", method, err)
	}
	return append([]byte(xml.Header), data...), nil
}

// EncodeResponse marshals a successful methodResponse carrying one result.
func EncodeResponse(result any) ([]byte, error) {
	v, err := encodeValue(result)
	if err != nil {
		return nil, fmt.Errorf("xmlrpc: encode response: %w", err)
	}
	resp := methodResponse{Params: []param{{Value: v}}}
	data, err := xml.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("xmlrpc: encode response: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

// EncodeFault marshals a fault methodResponse with the given code and message.
func EncodeFault(code int, message string) ([]byte, error) {
	resp := methodResponse{Fault: &faultBody{Value: value{Struct: &structElem{Members: []member{
		{Name: "faultCode", Value: value{Int: strPtr(strconv.Itoa(code))}},
		{Name: "faultString", Value: value{Str: strPtr(message)}},
	}}}}}
	data, err := xml.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("xmlrpc: encode fault: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

// FaultStruct is the in-band fault shape used inside system.multicall
// result slots.
func FaultStruct(f *Fault) map[string]any {
	return map[string]any{
		"faultCode":   f.Code,
		"faultString": f.Message,
	}
}

func encodeValue(v any) (value, error) {
	switch t := v.(type) {
	case nil:
		return value{}, errors.New("cannot encode nil value")
	case bool:
		s := "0"
		if t {
			s = "1"
		}
		return value{Boolean: &s}, nil
	case int:
		return intValue(int64(t))
	case int32:
		return intValue(int64(t))
	case int64:
		return intValue(t)
	case float32:
		return value{Double: strPtr(strconv.FormatFloat(float64(t), 'f', -1, 32))}, nil
	case float64:
		return value{Double: strPtr(strconv.FormatFloat(t, 'f', -1, 64))}, nil
	case string:
		return value{Str: &t}, nil
	case []byte:
		return value{Base64: strPtr(base64.StdEncoding.EncodeToString(t))}, nil
	case time.Time:
		return value{DateTime: strPtr(t.Format(iso8601Layout))}, nil
	case []any:
		arr := &arrayElem{}
		for _, item := range t {
			iv, err := encodeValue(item)
			if err != nil {
				return value{}, err
			}
			arr.Data.Values = append(arr.Data.Values, iv)
		}
		return value{Array: arr}, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		st := &structElem{}
		for _, k := range keys {
			mv, err := encodeValue(t[k])
			if err != nil {
				return value{}, err
			}
			st.Members = append(st.Members, member{Name: k, Value: mv})
		}
		return value{Struct: st}, nil
	default:
		return value{}, fmt.Errorf("unsupported type %T", v)
	}
}

// XML-RPC integers are 32-bit on the wire.
func intValue(n int64) (value, error) {
	if n > math.MaxInt32 || n < math.MinInt32 {
		return value{}, fmt.Errorf("integer %d overflows i4", n)
	}
	return value{Int: strPtr(strconv.FormatInt(n, 10))}, nil
}
