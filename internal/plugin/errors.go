package plugin

import (
	"fmt"
	"strings"
)

// DuplicateError is returned when a plugin name is registered twice.
type DuplicateError struct {
	Name string
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("plugin '%s' is already registered\nHint: plugin names must be unique across the registry", e.Name)
}

// NotFoundError is returned when the requested plugin is not registered.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e NotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("plugin '%s' not found in registry\nHint: ensure the plugin is registered before usage", e.Name)
	}
	return fmt.Sprintf(
		"plugin '%s' not found in registry (available: %s)\nHint: ensure the plugin is registered before usage",
		e.Name,
		strings.Join(e.Available, ", "),
	)
}

// InvalidPluginError is returned when a factory or its probe instance
// cannot serve as a plugin.
type InvalidPluginError struct {
	Reason string
}

func (e InvalidPluginError) Error() string {
	return fmt.Sprintf("invalid plugin: %s", e.Reason)
}
