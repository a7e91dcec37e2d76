// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package eventbus

import "time"

// Type identifies a class of events on the bus.
type Type string

const (
	// TypeTrip is emitted when a circuit breaker transitions to open.
	TypeTrip Type = "breaker.trip"
	// TypeStateChanged is emitted on every circuit breaker transition.
	TypeStateChanged Type = "breaker.state_changed"
	// TypeCoalesced is emitted when a request joins an in-flight execution.
	TypeCoalesced Type = "coalesce.joined"
	// TypeSelfHealing is emitted by the self-healing coordinator for each action it takes.
	TypeSelfHealing Type = "healing.action"
	// TypeDataRefreshCompleted is emitted after a recovery data refresh finished.
	TypeDataRefreshCompleted Type = "healing.refresh_completed"
	// TypeSystemError is emitted when a CCU reports an error through the callback channel.
	TypeSystemError Type = "ccu.system_error"
)

// Event is the common shape of everything published on the bus. The routing
// key is optional; events without one reach only wildcard subscribers.
type Event interface {
	EventType() Type
	RoutingKey() string
	OccurredAt() time.Time
}

// TripEvent reports a circuit breaker opening.
type TripEvent struct {
	InterfaceID       string
	FailureCount      int
	LastFailureReason string
	Cooldown          time.Duration
	At                time.Time
}

func (e TripEvent) EventType() Type       { return TypeTrip }
func (e TripEvent) RoutingKey() string    { return e.InterfaceID }
func (e TripEvent) OccurredAt() time.Time { return e.At }

// StateChangedEvent reports a circuit breaker transition in any direction.
type StateChangedEvent struct {
	InterfaceID  string
	OldState     string
	NewState     string
	FailureCount int
	SuccessCount int
	LastFailure  time.Time
	At           time.Time
}

func (e StateChangedEvent) EventType() Type       { return TypeStateChanged }
func (e StateChangedEvent) RoutingKey() string    { return e.InterfaceID }
func (e StateChangedEvent) OccurredAt() time.Time { return e.At }

// CoalescedEvent reports that a caller joined an already-running execution.
type CoalescedEvent struct {
	Key         string
	JoinedCount int
	At          time.Time
}

func (e CoalescedEvent) EventType() Type       { return TypeCoalesced }
func (e CoalescedEvent) RoutingKey() string    { return e.Key }
func (e CoalescedEvent) OccurredAt() time.Time { return e.At }

// Self-healing action names carried by SelfHealingEvent.
const (
	ActionTripLogged        = "trip_logged"
	ActionRecoveryInitiated = "recovery_initiated"
)

// SelfHealingEvent reports an action taken by the self-healing coordinator.
type SelfHealingEvent struct {
	InterfaceID string
	Action      string
	At          time.Time
}

func (e SelfHealingEvent) EventType() Type       { return TypeSelfHealing }
func (e SelfHealingEvent) RoutingKey() string    { return e.InterfaceID }
func (e SelfHealingEvent) OccurredAt() time.Time { return e.At }

// DataRefreshCompletedEvent reports the outcome of a recovery data refresh.
type DataRefreshCompletedEvent struct {
	InterfaceID string
	Success     bool
	Error       string
	At          time.Time
}

func (e DataRefreshCompletedEvent) EventType() Type       { return TypeDataRefreshCompleted }
func (e DataRefreshCompletedEvent) RoutingKey() string    { return e.InterfaceID }
func (e DataRefreshCompletedEvent) OccurredAt() time.Time { return e.At }

// SystemErrorEvent carries an error the CCU pushed via the error callback.
type SystemErrorEvent struct {
	InterfaceID string
	Code        int
	Message     string
	At          time.Time
}

func (e SystemErrorEvent) EventType() Type       { return TypeSystemError }
func (e SystemErrorEvent) RoutingKey() string    { return e.InterfaceID }
func (e SystemErrorEvent) OccurredAt() time.Time { return e.At }
