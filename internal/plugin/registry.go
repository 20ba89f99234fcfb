package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/amf-flx/fluxnet-shuttle/internal/logger"
)

// Registry manages data hub plugin factories keyed by lowercase plugin
// name. Registration probes the factory with a nil config to learn the
// plugin's identity; lookups are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	displays  map[string]string
	logger    *logger.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		displays:  make(map[string]string),
		logger:    log,
	}
}

// Register adds a plugin factory under the name reported by a throwaway
// probe instance. It returns DuplicateError when the name is taken and
// InvalidPluginError when the factory or its probe is unusable.
func (r *Registry) Register(factory Factory) error {
	if factory == nil {
		return InvalidPluginError{Reason: "factory is nil"}
	}

	probe, err := factory(nil)
	if err != nil {
		return InvalidPluginError{Reason: fmt.Sprintf("factory probe failed: %v", err)}
	}
	if probe == nil {
		return InvalidPluginError{Reason: "factory returned a nil plugin"}
	}

	name := strings.ToLower(strings.TrimSpace(probe.Name()))
	if name == "" {
		return InvalidPluginError{Reason: "plugin reported an empty name"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return DuplicateError{Name: name}
	}

	r.factories[name] = factory
	r.displays[name] = probe.DisplayName()

	r.logger.WithFields(map[string]any{"data_hub": name}).Debug("registered data hub plugin")
	return nil
}

// Get retrieves a factory by name, case-insensitively. The returned
// NotFoundError lists the registered names.
func (r *Registry) Get(name string) (Factory, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[key]
	if !exists {
		return nil, NotFoundError{Name: name, Available: r.listLocked()}
	}
	return factory, nil
}

// NewInstance builds a configured plugin instance by name.
func (r *Registry) NewInstance(name string, config map[string]any) (Plugin, error) {
	factory, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	instance, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("create plugin '%s': %w", strings.ToLower(name), err)
	}
	if instance == nil {
		return nil, InvalidPluginError{Reason: fmt.Sprintf("factory for '%s' returned a nil plugin", strings.ToLower(name))}
	}
	return instance, nil
}

// DisplayName returns the human-readable label recorded at registration.
func (r *Registry) DisplayName(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()

	display, exists := r.displays[key]
	if !exists {
		return "", NotFoundError{Name: name, Available: r.listLocked()}
	}
	return display, nil
}

// List returns the registered plugin names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
