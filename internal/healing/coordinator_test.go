// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package healing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/hm2g/internal/eventbus"
	"github.com/ManuGH/hm2g/internal/resilience"
)

type recordingScheduler struct {
	mu     sync.Mutex
	names  []string
	inline bool
}

func (s *recordingScheduler) CreateTask(name string, run func(ctx context.Context) error) {
	s.mu.Lock()
	s.names = append(s.names, name)
	inline := s.inline
	s.mu.Unlock()
	if inline {
		_ = run(context.Background())
	}
}

func (s *recordingScheduler) taskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

type stubRefresher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *stubRefresher) RefreshInterface(_ context.Context, interfaceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, interfaceID)
	return r.err
}

type healingRecorder struct {
	mu          sync.Mutex
	actions     []string
	completions []eventbus.DataRefreshCompletedEvent
}

func (r *healingRecorder) attach(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.TypeSelfHealing, "", func(_ context.Context, ev eventbus.Event) error {
		healing := ev.(eventbus.SelfHealingEvent)
		r.mu.Lock()
		defer r.mu.Unlock()
		r.actions = append(r.actions, healing.Action)
		return nil
	})
	bus.Subscribe(eventbus.TypeDataRefreshCompleted, "", func(_ context.Context, ev eventbus.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.completions = append(r.completions, ev.(eventbus.DataRefreshCompletedEvent))
		return nil
	})
}

func (r *healingRecorder) recordedActions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}

func stateChange(old, next resilience.State) eventbus.StateChangedEvent {
	return eventbus.StateChangedEvent{
		InterfaceID: "hm2g-BidCos-RF",
		OldState:    string(old),
		NewState:    string(next),
		At:          time.Now(),
	}
}

func TestCoordinatorLogsTripWithoutRefreshing(t *testing.T) {
	bus := eventbus.New()
	sched := &recordingScheduler{}
	recorder := &healingRecorder{}
	recorder.attach(bus)

	coord := New(bus, sched, &stubRefresher{})
	coord.Start()
	defer coord.Stop()

	bus.Publish(context.Background(), eventbus.TripEvent{
		InterfaceID:       "hm2g-BidCos-RF",
		FailureCount:      5,
		LastFailureReason: "connect timeout",
		Cooldown:          30 * time.Second,
		At:                time.Now(),
	})

	assert.Equal(t, []string{eventbus.ActionTripLogged}, recorder.recordedActions())
	assert.Zero(t, sched.taskCount(), "a trip must not schedule corrective work")
}

func TestCoordinatorRefreshesOnlyOnConfirmedRecovery(t *testing.T) {
	tests := []struct {
		name    string
		old     resilience.State
		next    resilience.State
		refresh bool
	}{
		{"closed to open", resilience.StateClosed, resilience.StateOpen, false},
		{"open to half-open", resilience.StateOpen, resilience.StateHalfOpen, false},
		{"half-open back to open", resilience.StateHalfOpen, resilience.StateOpen, false},
		{"half-open to closed", resilience.StateHalfOpen, resilience.StateClosed, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := eventbus.New()
			sched := &recordingScheduler{}
			recorder := &healingRecorder{}
			recorder.attach(bus)

			coord := New(bus, sched, &stubRefresher{})
			coord.Start()
			defer coord.Stop()

			bus.Publish(context.Background(), stateChange(tt.old, tt.next))

			if tt.refresh {
				require.Equal(t, 1, sched.taskCount())
				assert.Equal(t, []string{eventbus.ActionRecoveryInitiated}, recorder.recordedActions())
			} else {
				assert.Zero(t, sched.taskCount())
				assert.Empty(t, recorder.recordedActions())
			}
		})
	}
}

func TestCoordinatorRefreshPublishesCompletion(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		bus := eventbus.New()
		refresher := &stubRefresher{}
		recorder := &healingRecorder{}
		recorder.attach(bus)

		coord := New(bus, &recordingScheduler{inline: true}, refresher)
		coord.Start()
		defer coord.Stop()

		bus.Publish(context.Background(), stateChange(resilience.StateHalfOpen, resilience.StateClosed))

		require.Len(t, recorder.completions, 1)
		completed := recorder.completions[0]
		assert.True(t, completed.Success)
		assert.Empty(t, completed.Error)
		assert.Equal(t, "hm2g-BidCos-RF", completed.InterfaceID)
		assert.Equal(t, []string{"hm2g-BidCos-RF"}, refresher.calls)
	})

	t.Run("failure", func(t *testing.T) {
		bus := eventbus.New()
		refresher := &stubRefresher{err: errors.New("paramset fetch failed")}
		recorder := &healingRecorder{}
		recorder.attach(bus)

		coord := New(bus, &recordingScheduler{inline: true}, refresher)
		coord.Start()
		defer coord.Stop()

		bus.Publish(context.Background(), stateChange(resilience.StateHalfOpen, resilience.StateClosed))

		require.Len(t, recorder.completions, 1)
		completed := recorder.completions[0]
		assert.False(t, completed.Success)
		assert.Equal(t, "paramset fetch failed", completed.Error)
	})
}

func TestCoordinatorStopIsIdempotent(t *testing.T) {
	bus := eventbus.New()
	sched := &recordingScheduler{}
	coord := New(bus, sched, &stubRefresher{})

	coord.Stop()

	coord.Start()
	coord.Start()
	assert.Equal(t, 1, bus.SubscriptionCount(eventbus.TypeTrip))
	assert.Equal(t, 1, bus.SubscriptionCount(eventbus.TypeStateChanged))

	coord.Stop()
	coord.Stop()
	assert.Zero(t, bus.SubscriptionCount(eventbus.TypeTrip))
	assert.Zero(t, bus.SubscriptionCount(eventbus.TypeStateChanged))

	bus.Publish(context.Background(), stateChange(resilience.StateHalfOpen, resilience.StateClosed))
	assert.Zero(t, sched.taskCount(), "stopped coordinator must not react")
}

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreakerRecoveryTriggersExactlyOneRefresh(t *testing.T) {
	bus := eventbus.New()
	clk := &mockClock{now: time.Unix(1700000000, 0)}
	sched := &recordingScheduler{inline: true}
	refresher := &stubRefresher{}
	recorder := &healingRecorder{}
	recorder.attach(bus)

	coord := New(bus, sched, refresher)
	coord.Start()
	defer coord.Stop()

	cb := resilience.New("hm2g-HmIP-RF",
		resilience.Config{FailureThreshold: 2, Cooldown: 30 * time.Second},
		resilience.WithClock(clk), resilience.WithBus(bus))

	// 1. Two consecutive failures trip the breaker.
	cb.RecordFailure(errors.New("connect refused"))
	cb.RecordFailure(errors.New("connect refused"))
	require.Equal(t, resilience.StateOpen, cb.GetState())
	assert.Equal(t, []string{eventbus.ActionTripLogged}, recorder.recordedActions())
	assert.Zero(t, sched.taskCount())

	// 2. Cooldown elapses; the trial permit moves the breaker to
	// half-open without any healing action.
	clk.advance(31 * time.Second)
	require.NoError(t, cb.Allow())
	require.Equal(t, resilience.StateHalfOpen, cb.GetState())
	assert.Zero(t, sched.taskCount())

	// 3. The successful trial closes the breaker and schedules exactly
	// one refresh for the recovered interface.
	cb.RecordSuccess()
	require.Equal(t, resilience.StateClosed, cb.GetState())
	require.Equal(t, 1, sched.taskCount())
	assert.Equal(t, []string{"hm2g-HmIP-RF"}, refresher.calls)
	assert.Equal(t, []string{
		eventbus.ActionTripLogged,
		eventbus.ActionRecoveryInitiated,
	}, recorder.recordedActions())
	require.Len(t, recorder.completions, 1)
	assert.True(t, recorder.completions[0].Success)
}
