// Package builtin is the blessed default plugin: the npm and pnpm adapters,
// the built-in rules, the console and JSON reporters and the system
// executor.
package builtin

import (
	"fmt"

	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/plugin"
)

// Version is reported in the metadata of the plugin.
var Version = "0.0.0-dev"

// Plugin registers every built-in component.
type Plugin struct {
	// Executor backs the "system" executor component. It may be nil, in
	// which case no executor is registered.
	Executor *executor.System
}

var (
	_ plugin.Module    = (*Plugin)(nil)
	_ plugin.Describer = (*Plugin)(nil)
)

func (p *Plugin) Describe() plugin.Overrides {
	return plugin.Overrides{
		ID:          plugin.DefaultPluginID,
		Description: "Built-in package managers, rules and reporters",
		Version:     Version,
	}
}

func (p *Plugin) Register(api plugin.API) error {
	for _, pm := range PackageManagers() {
		if err := api.DefinePackageManager(pm); err != nil {
			return err
		}
	}
	for _, r := range Rules() {
		if err := api.DefineRule(r); err != nil {
			return err
		}
	}
	if err := api.DefineReporter(ConsoleReporter()); err != nil {
		return err
	}
	if err := api.DefineReporter(JSONReporter()); err != nil {
		return err
	}
	if p.Executor != nil {
		return api.DefineExecutor(executor.SystemDefinition(p.Executor))
	}
	return nil
}

// AddTo links the plugin into catalog under DefaultPluginID.
func (p *Plugin) AddTo(catalog *plugin.CatalogLoader) error {
	if err := catalog.Add(plugin.DefaultPluginID, p); err != nil {
		return fmt.Errorf("failed to link built-in plugin: %w", err)
	}
	return nil
}

// PackageManagers returns the built-in adapters.
func PackageManagers() []*pkgmanager.Definition {
	return []*pkgmanager.Definition{NPM(), PNPM()}
}
