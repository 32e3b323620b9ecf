package execplugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/boneskull/midnight-smoker-sub006/internal/executor"
	"github.com/boneskull/midnight-smoker-sub006/internal/pkgmanager"
	"github.com/boneskull/midnight-smoker-sub006/internal/plugin"
	"github.com/boneskull/midnight-smoker-sub006/internal/rule"
)

// Module is a plugin backed by an executable.
type Module struct {
	bin         string
	args        []string
	exec        executor.Executor
	description Description
}

var (
	_ plugin.Module    = (*Module)(nil)
	_ plugin.Describer = (*Module)(nil)
)

func (m *Module) Describe() plugin.Overrides {
	return plugin.Overrides{
		ID:          m.description.Name,
		Description: m.description.Description,
		Version:     m.description.Version,
	}
}

// Register defines one proxy component per declared rule and package
// manager.
func (m *Module) Register(api plugin.API) error {
	for _, rs := range m.description.Rules {
		if err := api.DefineRule(m.ruleDefinition(rs)); err != nil {
			return err
		}
	}
	for _, ps := range m.description.PackageManagers {
		if err := api.DefinePackageManager(m.pkgManagerDefinition(ps)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) ruleDefinition(rs RuleSpec) *rule.Definition {
	return &rule.Definition{
		Name:            rs.Name,
		Description:     rs.Description,
		URL:             rs.URL,
		DefaultSeverity: rs.DefaultSeverity,
		Schema:          rs.Schema,
		Check: func(ctx context.Context, rc *rule.Context, opts map[string]any) error {
			pkg := rc.Package()
			req := CheckRequest{Package: pkg, Severity: rc.Severity(), Options: opts}
			if pkg.Manifest != nil {
				req.Manifest = pkg.Manifest.Raw
			}
			var resp CheckResponse
			if err := m.call(ctx, &req, &resp, CommandCheck, rs.Name); err != nil {
				return err
			}
			for _, issue := range resp.Issues {
				rc.AddIssue(issue.Message,
					rule.WithData(issue.Data),
					rule.WithFilepath(issue.Filepath),
					rule.WithJSONPath(issue.JSONPath),
				)
			}
			return nil
		},
	}
}

func (m *Module) pkgManagerDefinition(ps PkgManagerSpec) *pkgmanager.Definition {
	base := func(bc pkgmanager.BaseContext) BaseRequest {
		return BaseRequest{Spec: bc.Spec, TmpDir: bc.TmpDir, Options: bc.Options, Verbose: bc.Verbose}
	}
	return &pkgmanager.Definition{
		Name:              ps.Name,
		Description:       ps.Description,
		Bin:               ps.Bin,
		SupportedVersions: ps.SupportedVersions,
		Versions:          ps.Versions,
		Schema:            ps.Schema,
		Pack: func(ctx context.Context, pc *pkgmanager.PackContext) (*pkgmanager.InstallManifest, error) {
			req := PackRequest{
				BaseRequest: base(pc.BaseContext),
				Workspace: WorkspaceRef{
					Name:         pc.Workspace.Name,
					LocalPath:    pc.Workspace.LocalPath,
					ManifestPath: pc.Workspace.ManifestPath,
				},
				PackDir: pc.PackDir,
			}
			var im pkgmanager.InstallManifest
			if err := m.call(ctx, &req, &im, CommandPkgManager, ps.Name, OpPack); err != nil {
				return nil, err
			}
			return &im, nil
		},
		Install: func(ctx context.Context, ic *pkgmanager.InstallContext) (*executor.Result, error) {
			req := InstallRequest{BaseRequest: base(ic.BaseContext), Manifest: ic.Manifest}
			var res executor.Result
			if err := m.call(ctx, &req, &res, CommandPkgManager, ps.Name, OpInstall); err != nil {
				return nil, err
			}
			return &res, nil
		},
		RunScript: func(ctx context.Context, rc *pkgmanager.RunScriptContext) (*pkgmanager.RunScriptResult, error) {
			req := RunScriptRequest{BaseRequest: base(rc.BaseContext), Manifest: rc.Manifest}
			var resp RunScriptResponse
			if err := m.call(ctx, &req, &resp, CommandPkgManager, ps.Name, OpRunScript); err != nil {
				return nil, err
			}
			out := &pkgmanager.RunScriptResult{
				Script:     rc.Manifest.Script,
				PkgName:    rc.Manifest.PkgName,
				PkgManager: rc.Spec.Label(),
				Result:     resp.Result,
				Skipped:    resp.Skipped,
			}
			if resp.Error != "" {
				out.Err = errors.New(resp.Error)
			}
			return out, nil
		},
	}
}

// call runs the executable with args, writing req as JSON to its stdin and
// decoding its stdout into resp.
func (m *Module) call(ctx context.Context, req, resp any, args ...string) error {
	var stdin []byte
	if req != nil {
		var err error
		if stdin, err = json.Marshal(req); err != nil {
			return fmt.Errorf("failed to encode %s request: %w", args[0], err)
		}
	}
	res, err := m.exec.Exec(ctx, executor.Command{
		Bin:   m.bin,
		Args:  append(append([]string{}, m.args...), args...),
		Stdin: stdin,
	})
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(res.Stdout), resp); err != nil {
		return fmt.Errorf("plugin %s returned invalid %s output: %w", m.bin, args[0], err)
	}
	return nil
}
