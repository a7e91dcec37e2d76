// SPDX-License-Identifier: MIT

package rpcserver

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Registry owns the server handles, keyed by bind address and port.
// Repeated construction with identical parameters returns the existing
// handle; distinct parameters create distinct servers. The registry
// replaces hidden process-wide state with something the application
// owns and tears down explicitly.
type Registry struct {
	mu      sync.Mutex
	servers map[string]*Server
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]*Server)}
}

// GetOrCreate resolves the server for cfg's bind address and port,
// creating it on first use. Only the first call's remaining Config
// fields take effect.
func (r *Registry) GetOrCreate(cfg Config) *Server {
	key := cfg.hostPort()
	r.mu.Lock()
	defer r.mu.Unlock()
	if srv, ok := r.servers[key]; ok {
		return srv
	}
	srv := New(cfg)
	r.servers[key] = srv
	return srv
}

// Servers returns the current handles.
func (r *Registry) Servers() []*Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Server, 0, len(r.servers))
	for _, srv := range r.servers {
		out = append(out, srv)
	}
	return out
}

// StopAll stops every registered server concurrently and returns the
// first error. Servers that never started are no-ops.
func (r *Registry) StopAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, srv := range r.Servers() {
		g.Go(func() error {
			return srv.Stop(ctx)
		})
	}
	return g.Wait()
}
