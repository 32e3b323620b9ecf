// Package pkgmanager defines the package-manager adapter contract and
// resolves user-requested package-manager specifiers into envelopes the
// orchestrator can drive.
package pkgmanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/schema"
	"github.com/boneskull/midnight-smoker-sub006/internal/version"
	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// BaseContext is shared by every adapter operation.
type BaseContext struct {
	Spec     Spec
	Executor executor.Executor
	// TmpDir is private to the worker driving this adapter.
	TmpDir  string
	Options map[string]any
	Verbose bool
}

// LifecycleContext is passed to Setup and Teardown.
type LifecycleContext struct {
	BaseContext
}

// PackContext is passed to Pack.
type PackContext struct {
	BaseContext
	Workspace workspace.Info
	// PackDir is where the tarball must be written.
	PackDir string
}

// InstallContext is passed to Install.
type InstallContext struct {
	BaseContext
	Manifest InstallManifest
}

// RunScriptContext is passed to RunScript.
type RunScriptContext struct {
	BaseContext
	Manifest RunScriptManifest
}

// Definition is the plugin-facing definition of a package-manager adapter.
type Definition struct {
	Name        string
	Description string
	// Bin is the executable looked up on the host PATH for "system"
	// resolution. Defaults to Name.
	Bin string
	// SupportedVersions is the semver range of versions the adapter can drive.
	SupportedVersions string
	// Versions is the known-versions table used to normalize requests.
	Versions version.Data
	// Schema optionally describes the adapter options.
	Schema []byte

	Setup     func(ctx context.Context, lc *LifecycleContext) error
	Teardown  func(ctx context.Context, lc *LifecycleContext) error
	Pack      func(ctx context.Context, pc *PackContext) (*InstallManifest, error)
	Install   func(ctx context.Context, ic *InstallContext) (*executor.Result, error)
	RunScript func(ctx context.Context, rc *RunScriptContext) (*RunScriptResult, error)
}

// Executable returns the binary name used for system resolution.
func (d *Definition) Executable() string {
	if d.Bin != "" {
		return d.Bin
	}
	return d.Name
}

// Validate checks the required fields of the definition, including the
// version table. A malformed table fails here, before any resolution.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, errors.New("package manager name is required"))
	}
	if d.Description == "" {
		errs = append(errs, fmt.Errorf("package manager %q: description is required", d.Name))
	}
	if d.Pack == nil {
		errs = append(errs, fmt.Errorf("package manager %q: pack function is required", d.Name))
	}
	if d.Install == nil {
		errs = append(errs, fmt.Errorf("package manager %q: install function is required", d.Name))
	}
	if d.RunScript == nil {
		errs = append(errs, fmt.Errorf("package manager %q: runScript function is required", d.Name))
	}
	if err := d.Versions.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("package manager %q: %w", d.Name, err))
	}
	if d.SupportedVersions != "" {
		if _, err := version.Satisfies("0.0.0", d.SupportedVersions); err != nil {
			errs = append(errs, fmt.Errorf("package manager %q: %w", d.Name, err))
		}
	}
	if len(d.Schema) > 0 {
		if _, err := schema.Compile(d.Schema); err != nil {
			errs = append(errs, fmt.Errorf("package manager %q: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateOptions checks opts against the schema of the adapter, if any.
// subject names the adapter in the error.
func (d *Definition) ValidateOptions(subject string, opts map[string]any) error {
	if len(d.Schema) == 0 || opts == nil {
		return nil
	}
	s, err := schema.Compile(d.Schema)
	if err != nil {
		return fmt.Errorf("package manager %s: %w", subject, err)
	}
	return s.Validate(subject, opts)
}
