// Package actions executes openBIS operations on behalf of the
// conversation engine. The router resolves a message to an action name and
// a parameter map; the registry looks up the matching handler and runs it.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc executes one action and returns user-facing result text.
type HandlerFunc func(ctx context.Context, params map[string]string) (string, error)

// ErrUnknownAction is returned by Dispatch for action names nothing has
// registered. Callers should use errors.Is: the conversation engine turns
// it into a polite reply instead of failing the turn.
var ErrUnknownAction = errors.New("actions: unknown action")

// Dispatcher runs named actions.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params map[string]string) (string, error)
	Names() []string
}

// Registry is a map-backed Dispatcher. Handlers are registered at startup;
// dispatch is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

var _ Dispatcher = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds an action name to a handler, replacing any previous
// binding.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Dispatch runs the handler registered for name.
func (r *Registry) Dispatch(ctx context.Context, name string, params map[string]string) (string, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	return h(ctx, params)
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
