// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetReturnsSameInstance(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 3})

	a := reg.Get("BidCos-RF")
	b := reg.Get("BidCos-RF")
	c := reg.Get("HmIP-RF")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "HmIP-RF", c.InterfaceID())
}

func TestRegistry_GetConcurrent(t *testing.T) {
	reg := NewRegistry(Config{})

	var wg sync.WaitGroup
	instances := make([]*CircuitBreaker, 16)
	for i := range instances {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			instances[i] = reg.Get("BidCos-RF")
		}(i)
	}
	wg.Wait()

	for _, cb := range instances[1:] {
		require.Same(t, instances[0], cb)
	}
}

func TestRegistry_Retune(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 5})

	existing := reg.Get("BidCos-RF")
	reg.Retune(Config{FailureThreshold: 1, Cooldown: time.Minute})

	// The retuned threshold applies to breakers that already exist.
	existing.RecordFailure(errors.New("down"))
	assert.Equal(t, StateOpen, existing.GetState())

	// And to breakers created afterwards.
	fresh := reg.Get("HmIP-RF")
	fresh.RecordFailure(errors.New("down"))
	assert.Equal(t, StateOpen, fresh.GetState())
}

func TestRegistry_AllClosed(t *testing.T) {
	clock := &mockClock{now: time.Now()}
	reg := NewRegistry(Config{FailureThreshold: 1, Cooldown: 10 * time.Second}, WithClock(clock))

	// Empty registry counts as closed.
	assert.True(t, reg.AllClosed())

	reg.Get("BidCos-RF")
	reg.Get("HmIP-RF")
	assert.True(t, reg.AllClosed())

	reg.Get("HmIP-RF").RecordFailure(errors.New("down"))
	assert.False(t, reg.AllClosed())

	states := reg.States()
	assert.Equal(t, StateClosed, states["BidCos-RF"])
	assert.Equal(t, StateOpen, states["HmIP-RF"])

	// Recovery restores the aggregate view.
	clock.now = clock.now.Add(11 * time.Second)
	require.NoError(t, reg.Get("HmIP-RF").Allow())
	reg.Get("HmIP-RF").RecordSuccess()
	assert.True(t, reg.AllClosed())
}

func TestRegistry_Reset(t *testing.T) {
	reg := NewRegistry(Config{FailureThreshold: 1, Cooldown: time.Minute})

	tripped := reg.Get("BidCos-RF")
	tripped.RecordFailure(errors.New("down"))
	require.Equal(t, StateOpen, tripped.GetState())
	healthy := reg.Get("HmIP-RF")

	reg.Reset()

	assert.Equal(t, StateClosed, tripped.GetState())
	assert.Equal(t, StateClosed, healthy.GetState())
	assert.True(t, reg.AllClosed())
	assert.Zero(t, tripped.Snapshot().FailureCount)

	// Holders keep their breaker instance across a reset.
	assert.Same(t, tripped, reg.Get("BidCos-RF"))
}
