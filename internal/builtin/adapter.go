package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/schema"
	"github.com/boneskull/midnight-smoker-sub006/internal/version"
	"github.com/boneskull/midnight-smoker-sub006/internal/workspace"
)

// Corepack runs a pinned package-manager version that is not the one on the
// host.
const Corepack = "corepack"

// AdapterOptions are the options every built-in adapter accepts.
type AdapterOptions struct {
	// Registry overrides the registry used by install.
	Registry string `json:"registry,omitempty" jsonschema:"description=Registry URL passed to install"`
	// ExtraInstallArgs are appended to the install command.
	ExtraInstallArgs []string `json:"extraInstallArgs,omitempty" jsonschema:"description=Additional install arguments"`
}

func adapterOptions(opts map[string]any) AdapterOptions {
	var o AdapterOptions
	if s, ok := opts["registry"].(string); ok {
		o.Registry = s
	}
	if list, ok := opts["extraInstallArgs"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				o.ExtraInstallArgs = append(o.ExtraInstallArgs, s)
			}
		}
	}
	return o
}

// cli describes how one package manager is driven from the command line.
type cli struct {
	name        string
	description string
	supported   string
	versions    version.Data
	// pack returns the arguments of the pack command writing into dest.
	pack func(dest string) []string
	// tarball extracts the tarball path from the output of pack.
	tarball func(stdout, dest string) (string, error)
	// install returns the arguments installing tarball.
	install func(tarball string, o AdapterOptions) []string
	// run returns the arguments running script.
	run func(script string) []string
}

func (c *cli) definition() *pkgmanager.Definition {
	return &pkgmanager.Definition{
		Name:              c.name,
		Description:       c.description,
		SupportedVersions: c.supported,
		Versions:          c.versions,
		Schema:            schema.Reflect(&AdapterOptions{}),
		Setup:             c.setup,
		Pack:              c.packWorkspace,
		Install:           c.installTarball,
		RunScript:         c.runScript,
	}
}

// command builds an invocation of the package manager described by spec.
// System package managers run their host binary, everything else runs
// through corepack.
func (c *cli) command(spec pkgmanager.Spec, dir string, args ...string) executor.Command {
	if spec.System {
		return executor.Command{Bin: spec.Bin, Args: args, Dir: dir}
	}
	return executor.Command{
		Bin:  Corepack,
		Args: append([]string{spec.Name + "@" + spec.Version}, args...),
		Dir:  dir,
		Env:  []string{"COREPACK_ENABLE_DOWNLOAD_PROMPT=0", "COREPACK_ENABLE_STRICT=0"},
	}
}

// setup checks that the package manager can be started at all, so that a
// missing corepack fails once instead of once per workspace.
func (c *cli) setup(ctx context.Context, lc *pkgmanager.LifecycleContext) error {
	_, err := lc.Executor.Exec(ctx, c.command(lc.Spec, lc.TmpDir, "--version"))
	return err
}

func (c *cli) packWorkspace(ctx context.Context, pc *pkgmanager.PackContext) (*pkgmanager.InstallManifest, error) {
	dest := filepath.Join(pc.PackDir, "tarballs")
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dest, err)
	}
	res, err := pc.Executor.Exec(ctx, c.command(pc.Spec, pc.Workspace.LocalPath, c.pack(dest)...))
	if err != nil {
		return nil, err
	}
	tarball, err := c.tarball(res.Stdout, dest)
	if err != nil {
		return nil, err
	}
	dir, err := installDir(pc.TmpDir, pc.Workspace.Name)
	if err != nil {
		return nil, err
	}
	return pkgmanager.InstallTarget(pc.Workspace, tarball, dir), nil
}

func (c *cli) installTarball(ctx context.Context, ic *pkgmanager.InstallContext) (*executor.Result, error) {
	args := c.install(ic.Manifest.PkgSpec, adapterOptions(ic.Options))
	return ic.Executor.Exec(ctx, c.command(ic.Spec, ic.Manifest.Cwd, args...))
}

func (c *cli) runScript(ctx context.Context, rc *pkgmanager.RunScriptContext) (*pkgmanager.RunScriptResult, error) {
	m := rc.Manifest
	manifest, err := workspace.ReadManifest(filepath.Join(m.Cwd, workspace.ManifestFilename))
	if err != nil {
		return nil, err
	}
	if _, ok := manifest.Scripts[m.Script]; !ok {
		return &pkgmanager.RunScriptResult{Skipped: true}, nil
	}
	cmd := c.command(rc.Spec, m.Cwd, c.run(m.Script)...)
	cmd.AllowFailure = true
	res, err := rc.Executor.Exec(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return &pkgmanager.RunScriptResult{Result: res}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// installDir creates a private directory for one package, holding the
// minimal manifest package managers need to install into it.
func installDir(tmp, pkgName string) (string, error) {
	dir := filepath.Join(tmp, "installs", unsafeName.ReplaceAllString(pkgName, "_"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	manifest := []byte(`{"name":"smoker-install","private":true}` + "\n")
	if err := os.WriteFile(filepath.Join(dir, workspace.ManifestFilename), manifest, 0o644); err != nil {
		return "", fmt.Errorf("failed to write install manifest: %w", err)
	}
	return dir, nil
}

// errNoTarball is returned when the output of pack names no tarball.
var errNoTarball = errors.New("pack produced no tarball")
