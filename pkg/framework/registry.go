package framework

import (
	"sort"
	"sync"

	"github.com/physobj/physobj/pkg/errors"
	"github.com/physobj/physobj/pkg/output"
)

// Factory constructs an analyzer. Construction is where a plugin declares its
// output trees through fs.
type Factory func(params ParameterSet, fs *output.Service) (Analyzer, error)

// Plugin is a registered analyzer type.
type Plugin struct {
	Name        string
	Factory     Factory
	Description *ParameterSetDescription
}

// Registry maps plugin names to factories.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

var defaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Default returns the process-wide registry that plugins register into from init.
func Default() *Registry {
	return defaultRegistry
}

// Register adds or replaces a plugin. A nil description accepts unknown parameters.
func (r *Registry) Register(name string, factory Factory, desc *ParameterSetDescription) {
	if desc == nil {
		desc = NewDescription().SetUnknown()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = Plugin{Name: name, Factory: factory, Description: desc}
}

// Lookup returns a registered plugin.
func (r *Registry) Lookup(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create validates params and constructs a module labelled label.
func (r *Registry) Create(label, plugin string, params ParameterSet, fs *output.Service) (Module, error) {
	p, ok := r.Lookup(plugin)
	if !ok {
		return Module{}, errors.PluginNotFound(plugin, r.Names())
	}

	if params == nil {
		params = ParameterSet{}
	}
	if err := p.Description.Validate(params); err != nil {
		return Module{}, errors.Wrapf(err, errors.CodeValidationFailed, "invalid parameters for %s", label)
	}

	a, err := p.Factory(params, fs)
	if err != nil {
		return Module{}, errors.Wrapf(err, errors.CodeValidationFailed, "failed to construct %s", label).
			WithContext("plugin", plugin)
	}
	return Module{Label: label, Plugin: plugin, Analyzer: a}, nil
}

// Register adds a plugin to the default registry.
func Register(name string, factory Factory, desc *ParameterSetDescription) {
	defaultRegistry.Register(name, factory, desc)
}
