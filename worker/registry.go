// Package worker provides the execution side of the protocol — a
// Registry of job handlers and an Agent that runs attempts dispatched to
// its service address, heartbeats while they execute, and answers status
// probes.
package worker

import (
	"context"
	"sort"
	"sync"
)

// Handler executes one job attempt. The context is canceled when the
// attempt is stopped or its timeout expires; handlers should honor it.
type Handler func(ctx context.Context, args map[string]any) error

// Registry maps job type names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Get returns the handler for a job type.
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// JobTypes returns the registered job type names, sorted.
func (r *Registry) JobTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
