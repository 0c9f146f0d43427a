// Package worker holds the task registry, the built-in handlers, and the
// execution wrapper that binds broker task results back to the task
// lifecycle.
package worker

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/fairyhunter13/taskhub/internal/domain"
)

// Handler executes one task payload. The returned value must be
// JSON-serialisable; non-object scalars are wrapped as {"value": v} before
// persistence.
type Handler func(ctx domain.Context, payload map[string]any) (any, error)

// Registry maps task_type to a handler. Registration is idempotent;
// re-registering a type overwrites the previous handler with a warning.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a task type.
func (r *Registry) Register(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[taskType]; exists {
		slog.Warn("task handler overwritten", slog.String("task_type", taskType))
	}
	r.handlers[taskType] = h
}

// Get returns the handler for a task type, or false when unregistered.
func (r *Registry) Get(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
