// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import "sync"

// Registry manages breakers by interface id. All breakers share one Config
// and option set; instances are created on first use.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	opts     []Option
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry. The options are applied to every
// breaker the registry creates.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	return &Registry{
		cfg:      cfg,
		opts:     opts,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for the interface id, creating it if needed.
func (r *Registry) Get(interfaceID string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[interfaceID]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[interfaceID]; ok {
		return cb
	}
	cb = New(interfaceID, r.cfg, r.opts...)
	r.breakers[interfaceID] = cb
	return cb
}

// Retune applies new tuning to every known breaker and to breakers
// created afterwards.
func (r *Registry) Retune(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	for _, cb := range breakers {
		cb.Retune(cfg)
	}
}

// Reset forces every known breaker back to closed. Holders of breaker
// pointers keep their instance; only the accumulated state is cleared.
func (r *Registry) Reset() {
	r.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.RUnlock()

	for _, cb := range breakers {
		cb.Reset()
	}
}

// AllClosed reports whether every known breaker is closed. An empty
// registry counts as closed.
func (r *Registry) AllClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		if cb.GetState() != StateClosed {
			return false
		}
	}
	return true
}

// States returns the current state of every known breaker.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]State, len(r.breakers))
	for id, cb := range r.breakers {
		out[id] = cb.GetState()
	}
	return out
}
