// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package healing reacts to circuit breaker events. Trips are recorded
// for operators; a confirmed recovery schedules a data refresh for the
// interface that came back.
package healing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hm2g/internal/eventbus"
	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/metrics"
	"github.com/ManuGH/hm2g/internal/resilience"
)

// TaskScheduler runs deferred work off the caller's goroutine. The
// rpcserver task set and the daemon both satisfy this.
type TaskScheduler interface {
	CreateTask(name string, run func(ctx context.Context) error)
}

// Refresher reloads interface data after a recovery.
type Refresher interface {
	RefreshInterface(ctx context.Context, interfaceID string) error
}

// Coordinator subscribes to breaker events on the bus. A Trip is logged
// and echoed as a trip_logged healing event; only the half-open to
// closed transition counts as recovery and triggers a refresh task.
// Reopening after a failed trial or entering half-open must not cause
// refresh storms while the peer is still flapping.
type Coordinator struct {
	bus       *eventbus.Bus
	scheduler TaskScheduler
	refresher Refresher
	logger    zerolog.Logger

	mu     sync.Mutex
	unsubs []func()
}

// New wires a coordinator. Call Start to attach it to the bus.
func New(bus *eventbus.Bus, scheduler TaskScheduler, refresher Refresher) *Coordinator {
	return &Coordinator{
		bus:       bus,
		scheduler: scheduler,
		refresher: refresher,
		logger:    log.WithComponent("healing"),
	}
}

// Start subscribes the trip and state-change handlers. Calling Start on
// a running coordinator is a no-op.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.unsubs) > 0 {
		return
	}
	c.unsubs = []func(){
		c.bus.Subscribe(eventbus.TypeTrip, "", c.onTrip),
		c.bus.Subscribe(eventbus.TypeStateChanged, "", c.onStateChanged),
	}
}

// Stop detaches both handlers. Safe to call repeatedly or without a
// prior Start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (c *Coordinator) onTrip(ctx context.Context, ev eventbus.Event) error {
	trip, ok := ev.(eventbus.TripEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	c.logger.Warn().
		Str(log.FieldEvent, "healing.trip_logged").
		Str(log.FieldInterfaceID, trip.InterfaceID).
		Int("failure_count", trip.FailureCount).
		Str(log.FieldReason, trip.LastFailureReason).
		Dur("cooldown", trip.Cooldown).
		Msg("interface tripped, waiting out cooldown")

	c.bus.Publish(ctx, eventbus.SelfHealingEvent{
		InterfaceID: trip.InterfaceID,
		Action:      eventbus.ActionTripLogged,
		At:          time.Now(),
	})
	return nil
}

func (c *Coordinator) onStateChanged(ctx context.Context, ev eventbus.Event) error {
	change, ok := ev.(eventbus.StateChangedEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}
	if change.OldState != string(resilience.StateHalfOpen) || change.NewState != string(resilience.StateClosed) {
		return nil
	}

	c.logger.Info().
		Str(log.FieldEvent, "healing.recovery_initiated").
		Str(log.FieldInterfaceID, change.InterfaceID).
		Msg("interface recovered, scheduling data refresh")

	c.bus.Publish(ctx, eventbus.SelfHealingEvent{
		InterfaceID: change.InterfaceID,
		Action:      eventbus.ActionRecoveryInitiated,
		At:          time.Now(),
	})

	interfaceID := change.InterfaceID
	c.scheduler.CreateTask("healing.refresh:"+interfaceID, func(taskCtx context.Context) error {
		return c.refresh(taskCtx, interfaceID)
	})
	return nil
}

func (c *Coordinator) refresh(ctx context.Context, interfaceID string) error {
	started := time.Now()
	err := c.refresher.RefreshInterface(ctx, interfaceID)
	elapsed := time.Since(started)

	completed := eventbus.DataRefreshCompletedEvent{
		InterfaceID: interfaceID,
		Success:     err == nil,
		At:          time.Now(),
	}
	if err != nil {
		completed.Error = err.Error()
		metrics.ObserveHealRefresh(interfaceID, "error", elapsed.Seconds())
		c.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "healing.refresh_failed").
			Str(log.FieldInterfaceID, interfaceID).
			Msg("post-recovery refresh failed")
	} else {
		metrics.ObserveHealRefresh(interfaceID, "success", elapsed.Seconds())
		c.logger.Info().
			Str(log.FieldEvent, "healing.refresh_completed").
			Str(log.FieldInterfaceID, interfaceID).
			Dur("took", elapsed).
			Msg("post-recovery refresh finished")
	}

	c.bus.Publish(ctx, completed)
	return err
}
