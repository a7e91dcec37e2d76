// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

func TestContextWithRequestID(t *testing.T) {
	tests := []struct {
		name      string
		ctx       context.Context
		requestID string
		want      string
	}{
		{
			name:      "nil context",
			ctx:       nil,
			requestID: "test-id-123",
			want:      "test-id-123",
		},
		{
			name:      "background context",
			ctx:       context.Background(),
			requestID: "req-456",
			want:      "req-456",
		},
		{
			name:      "empty request ID",
			ctx:       context.Background(),
			requestID: "",
			want:      "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithRequestID(tt.ctx, tt.requestID)
			got := RequestIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContextWithInterfaceID(t *testing.T) {
	tests := []struct {
		name        string
		ctx         context.Context
		interfaceID string
		want        string
	}{
		{
			name:        "nil context",
			ctx:         nil,
			interfaceID: "BidCos-RF",
			want:        "BidCos-RF",
		},
		{
			name:        "background context",
			ctx:         context.Background(),
			interfaceID: "HmIP-RF",
			want:        "HmIP-RF",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := ContextWithInterfaceID(tt.ctx, tt.interfaceID)
			got := InterfaceIDFromContext(ctx)
			if got != tt.want {
				t.Errorf("InterfaceIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestIDFromContextEmpty(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{
			name: "nil context",
			ctx:  nil,
			want: "",
		},
		{
			name: "context without request ID",
			ctx:  context.Background(),
			want: "",
		},
		{
			name: "context with wrong type",
			ctx:  context.WithValue(context.Background(), requestIDKey, 123),
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RequestIDFromContext(tt.ctx)
			if got != tt.want {
				t.Errorf("RequestIDFromContext() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithContextEnrichesFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-123")
	ctx = ContextWithCorrelationID(ctx, "corr-789")
	ctx = ContextWithInterfaceID(ctx, "BidCos-RF")

	logger := WithContext(ctx, base)
	logger.Info().Msg("enriched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry[FieldRequestID] != "req-123" {
		t.Errorf("expected request_id req-123, got %v", entry[FieldRequestID])
	}
	if entry[FieldCorrelationID] != "corr-789" {
		t.Errorf("expected correlation_id corr-789, got %v", entry[FieldCorrelationID])
	}
	if entry[FieldInterfaceID] != "BidCos-RF" {
		t.Errorf("expected interface_id BidCos-RF, got %v", entry[FieldInterfaceID])
	}
}

func TestWithContextEmptyReturnsOriginal(t *testing.T) {
	base := WithComponent("test")
	enriched := WithContext(context.Background(), base)
	if enriched.GetLevel() != base.GetLevel() {
		t.Error("logger level should be preserved")
	}
}

func TestWithComponentFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctxLogger := zerolog.New(&buf)
	ctx := ctxLogger.WithContext(context.Background())

	componentLogger := WithComponentFromContext(ctx, "breaker")
	componentLogger.Info().Msg("component")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}
	if entry[FieldComponent] != "breaker" {
		t.Errorf("expected component breaker, got %v", entry[FieldComponent])
	}
}

func TestWithTraceContext(t *testing.T) {
	logger := WithTraceContext(context.Background())
	if logger.GetLevel() > zerolog.PanicLevel {
		t.Error("expected valid logger without trace")
	}

	t.Run("WithValidSpan", func(t *testing.T) {
		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		})
		ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

		testBuf.Reset()
		traceLogger := WithTraceContext(ctx)
	traceLogger.Info().Msg("test with trace")

		var entry map[string]any
		if err := json.Unmarshal(testBuf.Bytes(), &entry); err != nil {
			t.Fatalf("failed to parse log output: %v", err)
		}
		if v, ok := entry["trace_id"].(string); !ok || v == "" {
			t.Error("expected trace_id in log output")
		}
		if v, ok := entry["span_id"].(string); !ok || v == "" {
			t.Error("expected span_id in log output")
		}
	})
}
