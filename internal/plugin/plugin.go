package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/sudosu4pp/multi-chain-zk-back/internal/protocol"
	"github.com/sudosu4pp/multi-chain-zk-back/internal/tag"
)

// Capabilities declares which engine phases a plugin takes part in.
type Capabilities struct {
	Filter  bool
	Process bool
}

//go:generate mockgen -destination=mocks/mock_plugin.go -package=mocks github.com/sudosu4pp/multi-chain-zk-back/internal/plugin Plugin

// Plugin is an optimization participant. A plugin is trusted to be
// idempotent: the same input batch may be delivered to it more than once.
type Plugin interface {
	Name() string
	Capabilities() Capabilities
	// FilterOps inspects fresh operations and may claim, replace or add to them.
	FilterOps(ctx context.Context, ops []protocol.Item) (*protocol.Result, error)
	// ProcessOps receives operations previously claimed under this plugin's namespace.
	ProcessOps(ctx context.Context, ops []protocol.Item) (*protocol.Result, error)
}

// RejectedError is a plugin's definitive refusal of a batch. The engine fails
// the operations instead of retrying them.
type RejectedError struct {
	Plugin string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("plugin %s rejected batch: %s", e.Plugin, e.Reason)
}

// Registry holds plugins in registration order. Claim races are arbitrated in
// that order, so it is part of the engine's deterministic behaviour.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// Add registers a plugin. Names must be usable as a tag namespace.
func (r *Registry) Add(p Plugin) error {
	name := p.Name()
	if err := tag.ValidatePluginName(name); err != nil {
		return fmt.Errorf("register plugin: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.plugins[name] = p
	r.order = append(r.order, name)
	return nil
}

// Remove unregisters name. Operations it still holds are released by the engine.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; !ok {
		return false
	}
	delete(r.plugins, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get retrieves a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// All returns the registered plugins in registration order.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.plugins[n])
	}
	return out
}

// Filterers returns the filter-capable plugins in registration order.
func (r *Registry) Filterers() []Plugin {
	var out []Plugin
	for _, p := range r.All() {
		if p.Capabilities().Filter {
			out = append(out, p)
		}
	}
	return out
}

// Processor returns name if it is registered and process-capable.
func (r *Registry) Processor(name string) (Plugin, bool) {
	p, ok := r.Get(name)
	if !ok || !p.Capabilities().Process {
		return nil, false
	}
	return p, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
