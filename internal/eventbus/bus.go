// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package eventbus implements the typed in-process publish/subscribe hub
// connecting the resilience components. Delivery is ordered by subscription
// and a failing handler never blocks the remaining subscribers.
package eventbus

import (
	"context"
	"sync"

	"github.com/ManuGH/hm2g/internal/log"
	"github.com/ManuGH/hm2g/internal/metrics"
	"github.com/rs/zerolog"
)

// Handler consumes an event and may block on I/O. Errors are logged and
// isolated; they never abort the fan-out.
type Handler func(ctx context.Context, event Event) error

// SyncHandler consumes an event and must not block. Only sync handlers are
// reached through PublishSync.
type SyncHandler func(event Event) error

type subscription struct {
	id      uint64
	key     string // empty = wildcard
	handler Handler
	sync    SyncHandler
}

func (s *subscription) matches(event Event) bool {
	return s.key == "" || s.key == event.RoutingKey()
}

// Bus is a typed publish/subscribe hub. Create instances with New.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Type][]*subscription
	logger zerolog.Logger
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[Type][]*subscription),
		logger: log.WithComponent("eventbus"),
	}
}

// Subscribe registers a blocking-capable handler for the given event type.
// An empty key subscribes to every event of that type; a non-empty key
// receives only events whose routing key matches exactly. The returned
// closure removes the subscription and is idempotent.
func (b *Bus) Subscribe(eventType Type, key string, handler Handler) (unsubscribe func()) {
	return b.add(eventType, &subscription{key: key, handler: handler})
}

// SubscribeSync registers a non-blocking handler reachable from both Publish
// and PublishSync. Key semantics match Subscribe.
func (b *Bus) SubscribeSync(eventType Type, key string, handler SyncHandler) (unsubscribe func()) {
	return b.add(eventType, &subscription{key: key, sync: handler})
}

func (b *Bus) add(eventType Type, sub *subscription) func() {
	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[eventType] = append(b.subs[eventType], sub)
	count := len(b.subs[eventType])
	b.mu.Unlock()

	metrics.SetBusSubscriptions(string(eventType), count)
	id := sub.id
	return func() { b.remove(eventType, id) }
}

func (b *Bus) remove(eventType Type, id uint64) {
	b.mu.Lock()
	entries := b.subs[eventType]
	for i, sub := range entries {
		if sub.id == id {
			b.subs[eventType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	count := len(b.subs[eventType])
	if count == 0 {
		delete(b.subs, eventType)
	}
	b.mu.Unlock()

	metrics.SetBusSubscriptions(string(eventType), count)
}

// Publish delivers the event to every matching subscriber in subscription
// order and returns once all of them completed. Handler errors and panics
// are logged and skipped so later subscribers still run. A canceled context
// stops the fan-out before the next handler.
func (b *Bus) Publish(ctx context.Context, event Event) {
	metrics.IncBusPublished(string(event.EventType()))
	for _, sub := range b.snapshot(event.EventType()) {
		if !sub.matches(event) {
			continue
		}
		if ctx.Err() != nil {
			b.logger.Debug().
				Str(log.FieldEvent, "bus.publish_canceled").
				Str("type", string(event.EventType())).
				Msg("publish fan-out stopped by canceled context")
			return
		}
		b.deliver(ctx, sub, event)
	}
}

// PublishSync delivers the event immediately to sync subscribers only. Call
// sites that cannot block use this path; blocking-capable handlers are
// skipped entirely, counted and reported at debug level.
func (b *Bus) PublishSync(event Event) {
	metrics.IncBusPublished(string(event.EventType()))
	skipped := 0
	for _, sub := range b.snapshot(event.EventType()) {
		if !sub.matches(event) {
			continue
		}
		if sub.sync == nil {
			skipped++
			continue
		}
		b.deliver(context.Background(), sub, event)
	}
	if skipped > 0 {
		b.logger.Debug().
			Str(log.FieldEvent, "bus.sync_publish_skipped").
			Str("type", string(event.EventType())).
			Int("skipped", skipped).
			Msg("async subscriptions skipped on sync publish")
	}
}

func (b *Bus) deliver(ctx context.Context, sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncBusHandlerFailure(string(event.EventType()), "panic")
			b.logger.Error().
				Str(log.FieldEvent, "bus.handler_panic").
				Str("type", string(event.EventType())).
				Str(log.FieldKey, event.RoutingKey()).
				Interface("panic", r).
				Msg("event handler panicked")
		}
	}()

	var err error
	if sub.sync != nil {
		err = sub.sync(event)
	} else {
		err = sub.handler(ctx, event)
	}
	if err != nil {
		metrics.IncBusHandlerFailure(string(event.EventType()), "error")
		b.logger.Error().
			Err(err).
			Str(log.FieldEvent, "bus.handler_failed").
			Str("type", string(event.EventType())).
			Str(log.FieldKey, event.RoutingKey()).
			Msg("event handler failed")
	}
}

// SubscriptionCount reports the number of active subscriptions for a type.
func (b *Bus) SubscriptionCount(eventType Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

func (b *Bus) snapshot(eventType Type) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entries := b.subs[eventType]
	out := make([]*subscription, len(entries))
	copy(out, entries)
	return out
}
