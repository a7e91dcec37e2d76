// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience guards outbound CCU calls. Each interface id owns one
// circuit breaker; state transitions are announced on the event bus so the
// self-healing coordinator can react to confirmed recoveries.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/hm2g/internal/eventbus"
	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/metrics"
	"github.com/rs/zerolog"
)

// State represents the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half-open"
	StateOpen     State = "open"
)

// Trip reasons recorded in metrics and carried on Trip events.
const (
	TripReasonThreshold       = "threshold_exceeded"
	TripReasonHalfOpenFailure = "half_open_failure"
)

// ErrCircuitOpen is returned when a call is refused because the circuit for
// the target interface is open or a half-open trial is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrInconclusive wraps outcomes that say nothing about the peer's
// health, such as caller-side rate limiting that failed before any
// network attempt. Execute releases the half-open trial slot and
// records neither success nor failure.
var ErrInconclusive = errors.New("call outcome inconclusive")

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultFailureThreshold  = 5
	DefaultCooldown          = 30 * time.Second
	DefaultHalfOpenSuccesses = 1
)

// Config holds circuit breaker tuning knobs.
type Config struct {
	FailureThreshold  int           // consecutive failures until the circuit opens
	Cooldown          time.Duration // open duration before a trial is permitted
	HalfOpenSuccesses int           // trial successes required to close again
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configuration pattern
type Option func(*CircuitBreaker)

// WithClock injects a custom clock.
func WithClock(c Clock) Option {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithBus wires state-change and trip events to the given bus.
func WithBus(b *eventbus.Bus) Option {
	return func(cb *CircuitBreaker) { cb.bus = b }
}

// CircuitBreaker is a consecutive-failure breaker for one CCU interface.
type CircuitBreaker struct {
	interfaceID string
	cfg         Config
	clock       Clock
	bus         *eventbus.Bus
	logger      zerolog.Logger

	mu                sync.Mutex
	state             State
	failureCount      int
	successCount      int
	lastFailure       time.Time
	lastFailureReason string
	openedAt          time.Time
	trialInFlight     bool
}

// New creates a closed breaker for the given interface id.
func New(interfaceID string, cfg Config, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		interfaceID: interfaceID,
		cfg:         cfg.withDefaults(),
		clock:       realClock{},
		state:       StateClosed,
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "breaker").Str(log.FieldInterfaceID, interfaceID)
		}),
	}
	for _, opt := range opts {
		opt(cb)
	}
	metrics.SetCircuitBreakerState(interfaceID, string(StateClosed))
	return cb
}

// InterfaceID returns the interface this breaker guards.
func (cb *CircuitBreaker) InterfaceID() string { return cb.interfaceID }

// Allow reports whether a call may proceed. In the open state it fails fast
// with ErrCircuitOpen until the cooldown elapses; the first caller after the
// cooldown becomes the single half-open trial and concurrent probes are
// refused until that trial resolves.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	switch cb.state {
	case StateClosed:
		cb.mu.Unlock()
		return nil
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			cb.mu.Unlock()
			metrics.RecordCircuitBreakerReject(cb.interfaceID)
			return ErrCircuitOpen
		}
		events := cb.transitionTo(StateHalfOpen, "")
		cb.trialInFlight = true
		cb.mu.Unlock()
		cb.emit(events)
		return nil
	case StateHalfOpen:
		if cb.trialInFlight {
			cb.mu.Unlock()
			metrics.RecordCircuitBreakerReject(cb.interfaceID)
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		cb.mu.Unlock()
		return nil
	}
	cb.mu.Unlock()
	return nil
}

// RecordSuccess notes a completed call. In half-open it counts toward the
// configured success threshold and closes the circuit once reached.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var events []eventbus.Event
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
		cb.successCount++
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.successCount++
		if cb.successCount >= cb.cfg.HalfOpenSuccesses {
			events = cb.transitionTo(StateClosed, "")
		}
	case StateOpen:
		// Late completion of a call that started before the trip.
	}
	cb.mu.Unlock()
	cb.emit(events)
}

// RecordFailure notes a failed call. Reaching the consecutive-failure
// threshold opens the circuit; a half-open trial failure reopens it and
// restarts the cooldown.
func (cb *CircuitBreaker) RecordFailure(cause error) {
	cb.mu.Lock()
	cb.lastFailure = cb.clock.Now()
	if cause != nil {
		cb.lastFailureReason = cause.Error()
	} else {
		cb.lastFailureReason = "unknown"
	}
	var events []eventbus.Event
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			events = cb.transitionTo(StateOpen, TripReasonThreshold)
		}
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.failureCount++
		events = cb.transitionTo(StateOpen, TripReasonHalfOpenFailure)
	case StateOpen:
		// Late failure while already open; nothing to transition.
	}
	cb.mu.Unlock()
	cb.emit(events)
}

// Execute runs op under the breaker: refused fast when open, recorded as
// success or failure afterwards. A context.Canceled or ErrInconclusive
// result releases the half-open trial slot without counting against
// the peer.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := op(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case errors.Is(err, context.Canceled), errors.Is(err, ErrInconclusive):
		cb.releaseTrial()
	default:
		cb.RecordFailure(err)
	}
	return err
}

func (cb *CircuitBreaker) releaseTrial() {
	cb.mu.Lock()
	cb.trialInFlight = false
	cb.mu.Unlock()
}

// Reset forces the breaker back to closed, clearing counters and any
// half-open trial. The transition publishes StateChanged with the old
// state as origin, so the healing coordinator's half-open-to-closed
// filter does not treat an operator reset as a confirmed recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.trialInFlight = false
	events := cb.transitionTo(StateClosed, "")
	if events == nil {
		cb.failureCount = 0
		cb.successCount = 0
		cb.lastFailureReason = ""
	}
	cb.mu.Unlock()
	cb.emit(events)
}

// Retune replaces the tuning knobs at runtime. The new thresholds apply
// from the next recorded outcome; state and counters are kept.
func (cb *CircuitBreaker) Retune(cfg Config) {
	cb.mu.Lock()
	cb.cfg = cfg.withDefaults()
	cb.mu.Unlock()
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats is a point-in-time snapshot of the breaker counters.
type Stats struct {
	State        State
	FailureCount int
	SuccessCount int
	LastFailure  time.Time
}

// Snapshot returns the current counters.
func (cb *CircuitBreaker) Snapshot() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:        cb.state,
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		LastFailure:  cb.lastFailure,
	}
}

// transitionTo switches state, updates metrics and logs, and returns the
// events to publish. Callers hold cb.mu and publish after unlocking so bus
// subscribers can call back into the breaker without deadlocking.
func (cb *CircuitBreaker) transitionTo(next State, tripReason string) []eventbus.Event {
	prev := cb.state
	if prev == next {
		return nil
	}
	now := cb.clock.Now()
	cb.state = next

	events := []eventbus.Event{eventbus.StateChangedEvent{
		InterfaceID:  cb.interfaceID,
		OldState:     string(prev),
		NewState:     string(next),
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		LastFailure:  cb.lastFailure,
		At:           now,
	}}

	switch next {
	case StateOpen:
		cb.openedAt = now
		cb.trialInFlight = false
		events = append(events, eventbus.TripEvent{
			InterfaceID:       cb.interfaceID,
			FailureCount:      cb.failureCount,
			LastFailureReason: cb.lastFailureReason,
			Cooldown:          cb.cfg.Cooldown,
			At:                now,
		})
		metrics.RecordCircuitBreakerTrip(cb.interfaceID, tripReason)
	case StateHalfOpen:
		cb.successCount = 0
	case StateClosed:
		cb.failureCount = 0
		cb.successCount = 0
		cb.lastFailureReason = ""
	}

	metrics.SetCircuitBreakerState(cb.interfaceID, string(next))
	cb.logger.Info().
		Str(log.FieldEvent, "breaker.state_change").
		Str(log.FieldOldState, string(prev)).
		Str(log.FieldNewState, string(next)).
		Int("failure_count", cb.failureCount).
		Msg("circuit breaker state changed")

	return events
}

func (cb *CircuitBreaker) emit(events []eventbus.Event) {
	if cb.bus == nil {
		return
	}
	for _, ev := range events {
		cb.bus.Publish(context.Background(), ev)
	}
}
