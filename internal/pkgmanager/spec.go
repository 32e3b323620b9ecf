package pkgmanager

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/boneskull/midnight-smoker-sub006/internal/component"
	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/version"
	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// Spec is a resolved package-manager specifier.
type Spec struct {
	Name string `json:"name"`
	// Version is concrete once the spec leaves the resolver. For system
	// specs it is the version the host binary reports.
	Version string `json:"version"`
	// Bin is the absolute path of the host binary for system specs.
	Bin         string `json:"bin,omitempty"`
	RequestedAs string `json:"requestedAs"`
	System      bool   `json:"system,omitempty"`
}

// Label is the human-readable identity of the spec.
func (s Spec) Label() string {
	if s.System {
		return fmt.Sprintf("%s@%s (system)", s.Name, s.Version)
	}
	return fmt.Sprintf("%s@%s", s.Name, s.Version)
}

func (s Spec) String() string {
	return s.Label()
}

// Desired is a parsed, unresolved specifier.
type Desired struct {
	Raw string
	// Name is a component id or name; "system" alone selects any adapter.
	Name string
	// Value is a version, range or dist-tag. Empty means the default tag.
	Value string
	// System requests the host binary; SystemRange optionally constrains it.
	System      bool
	SystemRange string
}

// ParseDesired parses "name", "name@value", "name@system",
// "name@system:<range>" or "system". Scoped names are supported.
func ParseDesired(raw string) (Desired, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Desired{}, fmt.Errorf("empty package manager specifier")
	}
	d := Desired{Raw: raw, Name: raw}
	if i := strings.LastIndex(raw, "@"); i > 0 {
		d.Name, d.Value = raw[:i], raw[i+1:]
	}
	if d.Name == version.System && d.Value == "" {
		d.Name = ""
		d.System = true
		return d, nil
	}
	if d.Value == version.System || strings.HasPrefix(d.Value, version.System+":") {
		d.System = true
		d.SystemRange = strings.TrimPrefix(strings.TrimPrefix(d.Value, version.System), ":")
		d.Value = ""
		if d.SystemRange != "" {
			if _, err := version.Satisfies("0.0.0", d.SystemRange); err != nil {
				return Desired{}, fmt.Errorf("invalid specifier %q: %w", raw, err)
			}
		}
	}
	if d.Name == "" {
		return Desired{}, fmt.Errorf("invalid specifier %q: missing package manager name", raw)
	}
	return d, nil
}

// Envelope is a resolved adapter, ready to be driven by a worker.
type Envelope struct {
	Component component.Component
	Adapter   *Definition
	Spec      Spec
}

func (e *Envelope) ComponentID() string {
	return e.Component.ID
}

func (e *Envelope) PluginName() string {
	return e.Component.PluginName
}

// InstallManifest describes one tarball produced by Pack, and where it is to
// be installed.
type InstallManifest struct {
	// PkgSpec is the tarball (or path) to install.
	PkgSpec string `json:"pkgSpec"`
	PkgName string `json:"pkgName"`
	// Cwd is the directory the install runs in.
	Cwd string `json:"cwd"`
	// InstallPath is where the package ends up, e.g. Cwd/node_modules/PkgName.
	InstallPath string `json:"installPath"`
	// Workspace is the local path of the packed workspace.
	Workspace string `json:"localPath"`
}

// Validate reports a malformed manifest returned by an adapter.
func (m *InstallManifest) Validate() error {
	var missing []string
	if m.PkgSpec == "" {
		missing = append(missing, "pkgSpec")
	}
	if m.PkgName == "" {
		missing = append(missing, "pkgName")
	}
	if m.Cwd == "" {
		missing = append(missing, "cwd")
	}
	if m.InstallPath == "" {
		missing = append(missing, "installPath")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing field(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// RunScriptManifest describes one script to run against an installed package.
type RunScriptManifest struct {
	Script  string `json:"script"`
	PkgName string `json:"pkgName"`
	// Cwd is the installed package directory.
	Cwd       string `json:"cwd"`
	Workspace string `json:"localPath"`
}

// RunScriptResult is the outcome of one script.
type RunScriptResult struct {
	Script     string           `json:"script"`
	PkgName    string           `json:"pkgName"`
	PkgManager string           `json:"pkgManager"`
	Result     *executor.Result `json:"rawResult,omitempty"`
	// Skipped is set when the package does not define the script.
	Skipped bool  `json:"skipped,omitempty"`
	Err     error `json:"-"`
}

// Failed reports whether the script failed: a non-zero exit or an error.
func (r *RunScriptResult) Failed() bool {
	return r.Err != nil || (r.Result != nil && r.Result.Failed() && !r.Skipped)
}

// InstallTarget computes the default InstallManifest for a workspace packed
// into tarball and installed under dir.
func InstallTarget(ws workspace.Info, tarball, dir string) *InstallManifest {
	return &InstallManifest{
		PkgSpec:     tarball,
		PkgName:     ws.Name,
		Cwd:         dir,
		InstallPath: NodeModulesPath(dir, ws.Name),
		Workspace:   ws.LocalPath,
	}
}

// NodeModulesPath returns dir/node_modules/name, honouring scoped names.
func NodeModulesPath(dir, name string) string {
	parts := append([]string{dir, "node_modules"}, strings.Split(name, "/")...)
	return filepath.Join(parts...)
}
