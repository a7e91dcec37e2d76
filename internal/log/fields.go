// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldJobID         = "job_id"
	FieldInterfaceID   = "interface_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldMethod    = "method"
	FieldKey       = "key"

	// Device / datapoint fields
	FieldAddress   = "address"
	FieldChannel   = "channel"
	FieldParameter = "parameter"
	FieldParamset  = "paramset"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Network fields
	FieldListenAddr = "listen_address"
	FieldRemoteAddr = "remote_addr"
	FieldURL        = "url"
)
