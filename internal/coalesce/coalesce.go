// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package coalesce de-duplicates concurrent identical requests. The first
// caller for a key runs the executor; callers arriving while it is still
// outstanding join it and receive the identical result or error. Entries
// are removed after every outcome so the pending set never leaks.
package coalesce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/hm2g/internal/eventbus"
	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrCleared resolves every waiter of an entry canceled through Clear.
var ErrCleared = errors.New("coalesced request cleared")

type options struct {
	bus *eventbus.Bus
}

// Option configures a Group.
type Option func(*options)

// WithBus emits a Coalesced event for every joined request.
func WithBus(b *eventbus.Bus) Option {
	return func(o *options) { o.bus = b }
}

// entry is the single-assignment result cell shared by all waiters of a key.
type entry[V any] struct {
	done    chan struct{}
	val     V
	err     error
	once    sync.Once
	cancel  context.CancelFunc
	joiners int
}

func (e *entry[V]) resolve(val V, err error) {
	e.once.Do(func() {
		e.val = val
		e.err = err
		close(e.done)
	})
}

func (e *entry[V]) wait(ctx context.Context) (V, error) {
	select {
	case <-e.done:
		return e.val, e.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Counters is a snapshot of the group's request accounting.
type Counters struct {
	Total    uint64 // every Execute call
	Executed uint64 // calls that ran the executor (non-joined)
	Joined   uint64 // calls that attached to an in-flight execution
}

// Group coalesces executions by key. V is the executor result type.
type Group[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	bus     *eventbus.Bus
	logger  zerolog.Logger

	total    atomic.Uint64
	executed atomic.Uint64
	joined   atomic.Uint64
}

// NewGroup creates an empty coalescing group.
func NewGroup[V any](opts ...Option) *Group[V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Group[V]{
		entries: make(map[string]*entry[V]),
		bus:     o.bus,
		logger:  log.WithComponent("coalesce"),
	}
}

// Execute runs fn for the key, or joins an outstanding execution of the same
// key. The executor receives a context detached from any single caller so a
// caller's cancellation never aborts work other callers are waiting on; only
// Clear cancels it. Each caller still honors its own ctx while waiting.
func (g *Group[V]) Execute(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error) {
	g.total.Add(1)

	g.mu.Lock()
	if e, ok := g.entries[key]; ok {
		e.joiners++
		joined := e.joiners
		g.mu.Unlock()

		g.joined.Add(1)
		metrics.IncCoalesceRequest("joined")
		g.logger.Debug().
			Str(log.FieldEvent, "coalesce.joined").
			Str(log.FieldKey, key).
			Int("joined_count", joined).
			Msg("request joined in-flight execution")
		if g.bus != nil {
			g.bus.Publish(ctx, eventbus.CoalescedEvent{Key: key, JoinedCount: joined, At: time.Now()})
		}
		return e.wait(ctx)
	}

	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e := &entry[V]{done: make(chan struct{}), cancel: cancel}
	g.entries[key] = e
	pending := len(g.entries)
	g.mu.Unlock()

	g.executed.Add(1)
	metrics.IncCoalesceRequest("leader")
	metrics.SetCoalesceInflight(pending)

	go g.run(execCtx, key, e, fn)
	return e.wait(ctx)
}

func (g *Group[V]) run(ctx context.Context, key string, e *entry[V], fn func(context.Context) (V, error)) {
	defer g.remove(key, e)
	defer func() {
		if r := recover(); r != nil {
			var zero V
			e.resolve(zero, fmt.Errorf("coalesced executor panicked: %v", r))
		}
	}()
	val, err := fn(ctx)
	e.resolve(val, err)
}

// remove drops the entry from the pending set unless a newer execution for
// the same key replaced it after a Clear.
func (g *Group[V]) remove(key string, e *entry[V]) {
	g.mu.Lock()
	if cur, ok := g.entries[key]; ok && cur == e {
		delete(g.entries, key)
	}
	pending := len(g.entries)
	g.mu.Unlock()
	metrics.SetCoalesceInflight(pending)
}

// Clear cancels and removes every pending entry. Waiters observe ErrCleared;
// executors see their context canceled. Safe to call at any time, including
// with nothing pending.
func (g *Group[V]) Clear() {
	g.mu.Lock()
	cleared := g.entries
	g.entries = make(map[string]*entry[V])
	g.mu.Unlock()

	var zero V
	for key, e := range cleared {
		e.cancel()
		e.resolve(zero, ErrCleared)
		metrics.IncCoalesceRequest("cleared")
		g.logger.Debug().
			Str(log.FieldEvent, "coalesce.cleared").
			Str(log.FieldKey, key).
			Int("joined_count", e.joiners).
			Msg("pending request cleared")
	}
	metrics.SetCoalesceInflight(0)

	if len(cleared) > 0 {
		g.logger.Info().
			Str(log.FieldEvent, "coalesce.clear").
			Int("cleared", len(cleared)).
			Msg("cleared pending coalesced requests")
	}
}

// PendingCount reports the number of keys currently in flight.
func (g *Group[V]) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Counters returns a snapshot of the request accounting.
func (g *Group[V]) Counters() Counters {
	return Counters{
		Total:    g.total.Load(),
		Executed: g.executed.Load(),
		Joined:   g.joined.Load(),
	}
}
