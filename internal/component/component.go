// Package component describes the registry-assigned identity of every
// capability a plugin contributes.
package component

import (
	"fmt"
	"strings"
)

// Kind is the capability family of a component.
type Kind string

const (
	KindPackageManager Kind = "pkg-manager"
	KindRule           Kind = "rule"
	KindReporter       Kind = "reporter"
	KindExecutor       Kind = "executor"
)

// Kinds lists all component kinds in a stable order.
var Kinds = []Kind{KindPackageManager, KindRule, KindReporter, KindExecutor}

// Separator joins a plugin name and a component name in a qualified id.
const Separator = "/"

// Component wraps a plugin-contributed definition with its registry identity.
type Component struct {
	Kind Kind `json:"kind"`
	// ID is unique per Kind across the whole registry.
	ID         string `json:"id"`
	PluginName string `json:"pluginName"`
	// Name is the name the plugin gave the component.
	Name    string `json:"name"`
	Blessed bool   `json:"blessed"`
}

func (c Component) String() string {
	return fmt.Sprintf("%s %s", c.Kind, c.ID)
}

// ID derives the id of a component. Blessed plugins contribute unqualified
// ids; all other plugins are namespaced by plugin name.
func ID(pluginName, name string, blessed bool) string {
	if blessed {
		return name
	}
	return pluginName + Separator + name
}

// SplitID splits a qualified id into plugin and component name. An
// unqualified id yields an empty plugin name. Scoped plugin names such as
// "@scope/plugin" are kept intact.
func SplitID(id string) (pluginName, name string) {
	i := strings.LastIndex(id, Separator)
	if i < 0 {
		return "", id
	}
	return id[:i], id[i+1:]
}

// New builds a Component, deriving its id.
func New(kind Kind, pluginName, name string, blessed bool) Component {
	return Component{
		Kind:       kind,
		ID:         ID(pluginName, name, blessed),
		PluginName: pluginName,
		Name:       name,
		Blessed:    blessed,
	}
}
