package plugin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/boneskull/midnight-smoker-sub006/internal/component"
)

// ErrRegistrySealed is returned when registering after the load phase.
var ErrRegistrySealed = errors.New("plugin registry is sealed")

// UnresolvablePluginError means no loader found the reference anywhere.
type UnresolvablePluginError struct {
	Ref string
	// Tried lists the base directories the reference was resolved against.
	Tried []string
}

func (e *UnresolvablePluginError) Error() string {
	return fmt.Sprintf("plugin %q could not be resolved from %s", e.Ref, strings.Join(e.Tried, ", "))
}

// PluginImportError means the reference resolved but loading it failed.
type PluginImportError struct {
	Ref        string
	EntryPoint string
	Cause      error
}

func (e *PluginImportError) Error() string {
	if e.EntryPoint != "" {
		return fmt.Sprintf("plugin %q (%s) failed to load: %v", e.Ref, e.EntryPoint, e.Cause)
	}
	return fmt.Sprintf("plugin %q failed to load: %v", e.Ref, e.Cause)
}

func (e *PluginImportError) Unwrap() error {
	return e.Cause
}

// InvalidPluginError means the reference loaded but does not export a
// Module.
type InvalidPluginError struct {
	Ref        string
	EntryPoint string
	Export     any
}

func (e *InvalidPluginError) Error() string {
	return fmt.Sprintf("plugin %q (%s) does not export a plugin module, got %T", e.Ref, e.EntryPoint, e.Export)
}

// ComponentCollisionError is returned when a definition is registered twice,
// or a name is reused within one plugin and kind.
type ComponentCollisionError struct {
	Kind      component.Kind
	Existing  string
	Attempted string
}

func (e *ComponentCollisionError) Error() string {
	return fmt.Sprintf("%s %q collides with already registered %s %q", e.Kind, e.Attempted, e.Kind, e.Existing)
}

// DuplicatePluginError is returned when a plugin id is already registered.
type DuplicatePluginError struct {
	ID       string
	Existing Metadata
}

func (e *DuplicatePluginError) Error() string {
	return fmt.Sprintf("plugin %q already registered from %s", e.ID, e.Existing.EntryPoint)
}

// RegistrationError wraps any failure of a plugin's registration.
type RegistrationError struct {
	Plugin Metadata
	Cause  error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register plugin %s: %v", e.Plugin, e.Cause)
}

func (e *RegistrationError) Unwrap() error {
	return e.Cause
}
