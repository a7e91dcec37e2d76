// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rpcserver

import "context"

// Session is the consumer-side handle the server routes inbound CCU
// callbacks into. A session typically represents one connected central
// unit owning one or more interfaces.
//
// Implementations must be comparable; Attach and Detach deduplicate by
// identity.
type Session interface {
	// ID identifies the session in health output and logs.
	ID() string

	// HasClient reports whether this session owns the given interface id.
	HasClient(interfaceID string) bool

	// DataPointEvent forwards a single value change pushed by the CCU.
	DataPointEvent(ctx context.Context, interfaceID, channelAddress, parameter string, value any) error

	// NewDevices forwards freshly paired device descriptions.
	NewDevices(ctx context.Context, interfaceID string, descriptions []map[string]any) error

	// DeleteDevices forwards addresses the CCU removed.
	DeleteDevices(ctx context.Context, interfaceID string, addresses []string) error

	// ListDevices returns the device descriptions this session already
	// knows for the interface, so the CCU can diff against them.
	ListDevices(ctx context.Context, interfaceID string) ([]map[string]any, error)

	// ReaddedDevice forwards addresses the CCU paired again without a
	// prior delete.
	ReaddedDevice(ctx context.Context, interfaceID string, addresses []string) error

	// ReplaceDevice forwards a swap of one device address for another.
	ReplaceDevice(ctx context.Context, interfaceID, oldAddress, newAddress string) error

	// UpdateDevice forwards a firmware or link update hint for an address.
	UpdateDevice(ctx context.Context, interfaceID, address string, hint int) error

	// ErrorReported forwards an error the CCU raised for this interface.
	ErrorReported(ctx context.Context, interfaceID string, code int, message string) error
}
